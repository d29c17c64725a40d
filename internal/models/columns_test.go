package models

import (
	"reflect"
	"testing"
)

func TestIndexListValueEncodesJSONText(t *testing.T) {
	v, err := IndexList{0, 2}.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "[0,2]" {
		t.Fatalf("expected [0,2], got %v", v)
	}

	v, err = IndexList(nil).Value()
	if err != nil {
		t.Fatalf("value nil: %v", err)
	}
	if v != "[]" {
		t.Fatalf("expected [] for nil list, got %v", v)
	}
}

func TestStringListScanAcceptsStringAndBytes(t *testing.T) {
	var fromString StringList
	if err := fromString.Scan(`["a","b","c","d"]`); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	var fromBytes StringList
	if err := fromBytes.Scan([]byte(`["a","b","c","d"]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	want := StringList{"a", "b", "c", "d"}
	if !reflect.DeepEqual(fromString, want) || !reflect.DeepEqual(fromBytes, want) {
		t.Fatalf("unexpected scan results: %v %v", fromString, fromBytes)
	}
}

func TestIndexListScanRejectsUnknownTypes(t *testing.T) {
	var l IndexList
	if err := l.Scan(42); err == nil {
		t.Fatal("expected error for int source")
	}
	if err := l.Scan(nil); err != nil {
		t.Fatalf("nil source should be accepted: %v", err)
	}
	if l != nil {
		t.Fatalf("expected nil list, got %v", l)
	}
}
