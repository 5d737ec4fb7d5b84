package arthook_test

import (
	"fmt"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"

	"github.com/pboyd/arthook"
	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/internal/arttest"
	"github.com/pboyd/arthook/isa"
)

var quiet = arthook.WithLogger(&log.Logger{Handler: discard.Default})

func ExampleRegistry_Install() {
	rt, _ := arttest.New("26")
	greet := rt.MustAddMethod(arttest.MethodSpec{
		Class:  "a.Greeter",
		Name:   "greet",
		Return: "java.lang.String",
		Params: []string{"java.lang.String"},
		Body: func(c *arttest.Call) (any, error) {
			return "Hello, " + c.Args[0].(string), nil
		},
	})

	var reg *arthook.Registry
	loud := rt.MustAddMethod(arttest.MethodSpec{
		Class:  "a.Hooks",
		Name:   "loud",
		Return: "java.lang.String",
		Params: []string{"a.Greeter", "java.lang.String"},
		Static: true,
		Body: func(c *arttest.Call) (any, error) {
			// Pass the world through
			if c.Args[0] == "world" {
				return reg.ByReplacement(c.Method).Invoke(c.Receiver, c.Args...)
			}
			return "HEY " + c.Args[0].(string) + "!", nil
		},
	})

	reg, _ = arthook.NewRegistry(rt, rt.Mem, arthook.WithEncoder(isa.ARM64Encoder{}), quiet)
	defer reg.Close()

	reg.Install(greet, loud, "")

	s, _ := rt.Invoke(greet, nil, "world")
	fmt.Println(s)
	s, _ = rt.Invoke(greet, nil, "you")
	fmt.Println(s)
	// Output:
	// Hello, world
	// HEY you!
}

func ExampleRegistry_InstallAll() {
	rt, _ := arttest.New("23")
	body := func(c *arttest.Call) (any, error) {
		return c.Method.Class() + "->" + c.Method.Name(), nil
	}
	open := rt.MustAddMethod(arttest.MethodSpec{Class: "a.File", Name: "open", Return: "java.lang.String", Body: body})
	hook := rt.MustAddMethod(arttest.MethodSpec{
		Class:  "a.Hooks",
		Name:   "open",
		Return: "java.lang.String",
		Params: []string{"a.File"},
		Static: true,
		Body:   body,
	})

	reg, _ := arthook.NewRegistry(rt, rt.Mem, arthook.WithEncoder(isa.ARM64Encoder{}), quiet)
	defer reg.Close()

	_, err := reg.InstallAll([]art.Declaration{
		{Target: "a.File", Replacement: hook, Identifier: "open"},
	})
	fmt.Println(err)

	s, _ := rt.Invoke(open, nil)
	fmt.Println(s)
	s, _ = reg.Backup("open").Invoke(nil)
	fmt.Println(s)
	// Output:
	// <nil>
	// a.Hooks->open
	// a.File->open
}

func ExampleProbe() {
	rt, _ := arttest.New("26")
	m := rt.MustAddMethod(arttest.MethodSpec{Class: "a.B", Name: "f"})

	rt.Mem.DenyUnprotect = true
	c, err := arthook.Probe(rt.Mem, m.Entry(), 16)
	fmt.Println(c.MapExecutable, c.Patchable())
	fmt.Println(err != nil)
	// Output:
	// true false
	// true
}
