package axitypes

import "testing"

func TestResp_String(t *testing.T) {
	cases := []struct {
		r    Resp
		want string
	}{
		{RespOkay, "okay"},
		{RespExOkay, "exokay"},
		{RespSlvErr, "slverr"},
		{RespDecErr, "decerr"},
		{Resp(0xFF), "unknown"},
	}
	for _, c := range cases {
		if got := c.r.String(); got != c.want {
			t.Errorf("Resp(%d).String() = %q, want %q", c.r, got, c.want)
		}
	}
}

func TestBurst_String(t *testing.T) {
	cases := []struct {
		b    Burst
		want string
	}{
		{BurstFixed, "fixed"},
		{BurstIncr, "incr"},
		{BurstWrap, "wrap"},
		{Burst(0xFF), "unknown"},
	}
	for _, c := range cases {
		if got := c.b.String(); got != c.want {
			t.Errorf("Burst(%d).String() = %q, want %q", c.b, got, c.want)
		}
	}
}

func TestInterruptLine_FormatsDecimalID(t *testing.T) {
	cases := []struct {
		id   int
		want string
	}{
		{0, "ext_intr_PE_0_0"},
		{7, "ext_intr_PE_7_0"},
		{42, "ext_intr_PE_42_0"},
	}
	for _, c := range cases {
		if got := InterruptLine(c.id); got != c.want {
			t.Errorf("InterruptLine(%d) = %q, want %q", c.id, got, c.want)
		}
	}
}

func TestSuffixes_CarryIDLast(t *testing.T) {
	groups := [][]string{Suffixes.AR, Suffixes.AW, Suffixes.R, Suffixes.B}
	for _, g := range groups {
		if g[len(g)-1] != "ID" {
			t.Errorf("suffix group %v does not end with ID", g)
		}
	}
	for _, suf := range Suffixes.W {
		if suf == "ID" {
			t.Error("W channel suffixes should not include ID")
		}
	}
}
