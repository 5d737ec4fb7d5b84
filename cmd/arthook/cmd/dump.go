package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pboyd/arthook"
	"github.com/pboyd/arthook/internal/arttest"
	"github.com/pboyd/arthook/isa"
)

// nops fill the prologue of simulated methods so that it relocates cleanly
// on every instruction set.
var nops = map[isa.Arch][]byte{
	isa.ARM32:  {0x00, 0xf0, 0x20, 0xe3},
	isa.Thumb2: {0x00, 0xbf},
	isa.ARM64:  {0x1f, 0x20, 0x03, 0xd5},
	isa.X86:    {0x90},
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().IntP("hooks", "n", 2, "number of hooked methods sharing the entry")
	dumpCmd.Flags().IntP("siblings", "s", 1, "number of unhooked methods sharing the entry")
	dumpCmd.Flags().IntP("code-size", "c", arttest.DefaultCodeSize, "compiled code size recorded in the method header")
	viper.BindPFlag("dump.hooks", dumpCmd.Flags().Lookup("hooks"))
	viper.BindPFlag("dump.siblings", dumpCmd.Flags().Lookup("siblings"))
	viper.BindPFlag("dump.code-size", dumpCmd.Flags().Lookup("code-size"))
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Build a hook page in simulated memory and disassemble it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := registryOptions()
		if err != nil {
			return err
		}
		opts.ISA = archOrDefault(opts.ISA)
		if opts.RuntimeVersion == "" {
			opts.RuntimeVersion = "26"
		}
		// Records in the simulated runtime are always 64-bit.
		opts.PointerSize = 8

		hooks := viper.GetInt("dump.hooks")
		if hooks < 1 {
			return errors.Errorf("need at least one hook, got %d", hooks)
		}

		rt, err := arttest.New(opts.RuntimeVersion)
		if err != nil {
			return err
		}
		prologue := bytes.Repeat(nops[opts.ISA], arttest.PrologueSize/len(nops[opts.ISA]))

		base, err := rt.AddMethod(arttest.MethodSpec{
			Class:    "demo.Target",
			Name:     "m0",
			CodeSize: viper.GetInt("dump.code-size"),
			Prologue: prologue,
		})
		if err != nil {
			return err
		}
		methods := []*arttest.Method{base}
		for i := 1; i < hooks+viper.GetInt("dump.siblings"); i++ {
			m, err := rt.AddMethod(arttest.MethodSpec{
				Class:     "demo.Target",
				Name:      fmt.Sprintf("m%d", i),
				ShareWith: base,
			})
			if err != nil {
				return err
			}
			methods = append(methods, m)
		}

		reg, err := arthook.NewRegistry(rt, rt.Mem, arthook.WithOptions(opts))
		if err != nil {
			return err
		}
		defer reg.Close()

		for i := 0; i < hooks; i++ {
			r, err := rt.AddMethod(arttest.MethodSpec{
				Class:    "demo.Hooks",
				Name:     fmt.Sprintf("hook%d", i),
				Static:   true,
				Params:   []string{"demo.Target"},
				Prologue: prologue,
			})
			if err != nil {
				return err
			}
			if _, err := reg.Install(methods[i], r, ""); err != nil {
				return errors.Wrapf(err, "failed to hook %s", methods[i].Name())
			}
		}

		info, ok := reg.Page(base.Entry())
		if !ok {
			return errors.New("no hook page was created")
		}
		log.WithFields(log.Fields{
			"isa":     reg.Encoder().Name(),
			"layout":  reg.Accessor().Layout().Name,
			"methods": len(methods),
		}).Debug("built hook page")

		return printPage(rt, reg.Encoder(), info)
	},
}

func printPage(rt *arttest.Runtime, enc isa.Encoder, info arthook.PageInfo) error {
	code, err := rt.Mem.Read(info.Addr, info.Size)
	if err != nil {
		return err
	}

	mode := "redirected entry fields"
	if info.Patched {
		mode = "patched in place"
	}
	fmt.Printf("%s %s\n", colorTitle("[ HOOK PAGE ]"), colorFaint(strings.Repeat("-", 50)))
	fmt.Printf("%s %#x (%d bytes of code, %s)\n", colorKey("entry:"), info.Entry, info.CodeSize, mode)
	fmt.Printf("%s %#x (%s)\n", colorKey("page: "), info.Addr, humanize.Bytes(uint64(info.Size)))
	fmt.Printf("%s %d\n\n", colorKey("hooks:"), len(info.Sources))

	hdr := int(info.Dispatch - info.Addr)
	fmt.Println(colorTitle("method header"))
	fmt.Printf("0x%08x\t%s\n\n", info.Addr, hex.EncodeToString(code[:hdr]))

	dispatchEnd := hdr + enc.TargetJumpSize()*len(info.Sources)
	for i, src := range info.Sources {
		off := hdr + i*enc.TargetJumpSize()
		fmt.Println(colorTitle(fmt.Sprintf("dispatch %d", i)), colorFaint(fmt.Sprintf("record %#x", src)))
		if err := printCode(enc.Arch(), info.Addr+uint64(off), code[off:off+enc.TargetJumpSize()]); err != nil {
			return err
		}
	}

	fmt.Println(colorTitle("fall-through"))
	if err := printCode(enc.Arch(), info.Addr+uint64(dispatchEnd), code[dispatchEnd:]); err != nil {
		return err
	}

	if info.Patched {
		patched, err := rt.Mem.Read(info.Entry, enc.DirectJumpSize())
		if err != nil {
			return err
		}
		fmt.Println(colorTitle("entry"))
		if err := printCode(enc.Arch(), info.Entry, patched); err != nil {
			return err
		}
	}
	return nil
}

func printCode(a isa.Arch, addr uint64, code []byte) error {
	asm, err := isa.Disassemble(a, addr, code)
	if err != nil {
		return err
	}
	fmt.Println(asm)
	return nil
}
