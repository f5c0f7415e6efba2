package message

import "testing"

func TestOpcodeIDCount(t *testing.T) {
	cases := map[Opcode]int{
		OpCallFunction:  1,
		OpCallMethod:    2,
		OpCreateObject:  2,
		OpDestroyObject: 1,
		Opcode(42):      -1,
	}
	for op, want := range cases {
		if got := op.IDCount(); got != want {
			t.Errorf("%s.IDCount() = %d, want %d", op, got, want)
		}
	}
}

func TestWireValues(t *testing.T) {
	// opcode values are part of the wire format
	if OpCallFunction != 0 || OpCallMethod != 1 || OpCreateObject != 2 {
		t.Fatal("opcode values changed")
	}
	if StatusGood != 0 {
		t.Fatal("good status must be 0")
	}
}

func TestStatusString(t *testing.T) {
	if StatusUnknownObject.String() != "unknown object" {
		t.Fatalf("unexpected name %q", StatusUnknownObject.String())
	}
	if Status(200).String() != "status(200)" {
		t.Fatalf("unexpected name %q", Status(200).String())
	}
}

func TestFail(t *testing.T) {
	resp := Fail(StatusUnknownFunction, "function %s not registered", "add")
	if resp.Status != StatusUnknownFunction || resp.Error != "function add not registered" {
		t.Fatalf("unexpected response %+v", resp)
	}
}
