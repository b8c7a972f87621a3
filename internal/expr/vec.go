package expr

type Vec []Expr

func (v Vec) mustMatch(o Vec) {
	if len(v) != len(o) {
		panic("expr: vector length mismatch")
	}
}

func (v Vec) Add(o Vec) Vec {
	v.mustMatch(o)
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Add(o[i])
	}
	return out
}

func (v Vec) Sub(o Vec) Vec {
	v.mustMatch(o)
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Sub(o[i])
	}
	return out
}

// Mul multiplies element-wise.
func (v Vec) Mul(o Vec) Vec {
	v.mustMatch(o)
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Mul(o[i])
	}
	return out
}

func (v Vec) Scale(s Expr) Vec {
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Mul(s)
	}
	return out
}

func (v Vec) ScaleConst(c float64) Vec {
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Scale(c)
	}
	return out
}

func (v Vec) DivBy(s Expr) Vec {
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Div(s)
	}
	return out
}

// Values returns the constant values of v, if every element is constant.
func (v Vec) Values() ([]float64, bool) {
	out := make([]float64, len(v))
	for i, e := range v {
		val, ok := e.Value()
		if !ok {
			return nil, false
		}
		out[i] = val
	}
	return out, true
}

func Concat(vs ...Vec) Vec {
	n := 0
	for _, v := range vs {
		n += len(v)
	}
	out := make(Vec, 0, n)
	for _, v := range vs {
		out = append(out, v...)
	}
	return out
}
