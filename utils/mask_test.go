package utils

import "testing"

func TestMaskHalfInt64(t *testing.T) {
	cases := []struct {
		id   int64
		want string
	}{
		{5, "5"},
		{42, "42"},
		{123456, "123***"},
		{1234567, "123****"},
	}
	for _, tc := range cases {
		if got := MaskHalfInt64(tc.id); got != tc.want {
			t.Errorf("MaskHalfInt64(%d) = %q, want %q", tc.id, got, tc.want)
		}
	}
}
