package classfile

import (
	"reflect"
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
)

func TestBootstrapMethods(t *testing.T) {
	want := []BootstrapMethod{
		{
			Method: bytecode.Handle{Kind: RefInvokeStatic, Owner: "java/lang/invoke/StringConcatFactory", Name: "makeConcatWithConstants", Desc: "()Ljava/lang/invoke/CallSite;"},
			Args:   []bytecode.Constant{bytecode.String("\u0001!")},
		},
		{
			Method: bytecode.Handle{Kind: RefInvokeStatic, Owner: "java/lang/invoke/LambdaMetafactory", Name: "metafactory", Desc: "()Ljava/lang/invoke/CallSite;"},
			Args: []bytecode.Constant{
				bytecode.MethodType("()V"),
				bytecode.Handle{Kind: RefInvokeStatic, Owner: "test/Sample", Name: "lambda$run$0", Desc: "()V"},
				bytecode.MethodType("()V"),
			},
		},
	}

	c := newTestClass(52, newTestMethod(AccStatic, "run", "()V", bytecode.NewInsn(bytecode.OpReturn)))
	if got, err := c.BootstrapMethods(); err != nil || got != nil {
		t.Fatalf("BootstrapMethods on a fresh class = %v, %v", got, err)
	}
	for i, bm := range want {
		if got := c.AddBootstrapMethod(bm); got != i {
			t.Errorf("AddBootstrapMethod returned %d, want %d", got, i)
		}
	}

	for _, cls := range []*Class{c, roundTrip(t, c)} {
		got, err := cls.BootstrapMethods()
		if err != nil {
			t.Fatalf("BootstrapMethods failed: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("BootstrapMethods = %+v, want %+v", got, want)
		}
	}
}

func TestBootstrapMethodsTruncated(t *testing.T) {
	c := newTestClass(52)
	c.Attributes = append(c.Attributes, Attribute{Name: "BootstrapMethods", Data: []byte{0, 1, 0}})
	if _, err := c.BootstrapMethods(); err == nil {
		t.Error("truncated BootstrapMethods accepted")
	}
}
