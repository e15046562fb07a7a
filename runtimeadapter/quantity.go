// File: runtimeadapter/quantity.go
// Author: momentics <momentics@gmail.com>

package runtimeadapter

import "k8s.io/apimachinery/pkg/api/resource"

// resourceQuantity parses s into a resource.Quantity, falling back to
// the zero quantity if s is malformed — resource limits are clamped
// upstream by config validation, so this is a defensive last resort.
func resourceQuantity(s string) *resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		zero := resource.MustParse("0")
		return &zero
	}
	return &q
}
