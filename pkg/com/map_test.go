package com

import (
	"fmt"
	"testing"
)

func TestMapOps(t *testing.T) {
	m := NewMap[string, int]()
	if !m.IsEmpty() {
		t.Errorf("expected an empty map")
	}
	for i := 0; i < 5; i++ {
		m.Put(fmt.Sprintf("k%v", i), i)
	}
	if m.Len() != 5 {
		t.Errorf("expected 5 elements, got %v", m.Len())
	}
	v, err := m.Find("k3")
	if err != nil || v != 3 {
		t.Errorf("find failed, v: %v, err: %v", v, err)
	}
	if _, err := m.Find("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if v, ok := m.Pop("k3"); !ok || v != 3 {
		t.Errorf("pop failed, v: %v, ok: %v", v, ok)
	}
	if m.Has("k3") {
		t.Errorf("k3 should be gone")
	}
	n := 0
	m.Drain(func(string, int) { n++ })
	if n != 4 || !m.IsEmpty() {
		t.Errorf("drain failed, n: %v", n)
	}
}
