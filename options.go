package arthook

import (
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/caarlos0/env/v8"

	"github.com/pboyd/arthook/isa"
)

// EnvPrefix prefixes every environment variable read by LoadOptions.
const EnvPrefix = "ARTHOOK_"

// SmallFunctionPolicy decides what happens to methods whose compiled code is
// shorter than the patch threshold.
type SmallFunctionPolicy int

const (
	// RedirectSmallFunctions leaves the code alone and points each hooked
	// method's compiled entry field at the hook page instead.
	RedirectSmallFunctions SmallFunctionPolicy = iota
	// RejectSmallFunctions fails the install with ErrFunctionTooSmall.
	RejectSmallFunctions
)

func (p SmallFunctionPolicy) String() string {
	switch p {
	case RedirectSmallFunctions:
		return "redirect"
	case RejectSmallFunctions:
		return "reject"
	}
	return fmt.Sprintf("SmallFunctionPolicy(%d)", int(p))
}

func (p *SmallFunctionPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "redirect", "":
		*p = RedirectSmallFunctions
	case "reject":
		*p = RejectSmallFunctions
	default:
		return fmt.Errorf("%w: unknown small function policy %q", ErrInvalidOptions, text)
	}
	return nil
}

// Options configure a Registry. The zero value detects everything.
type Options struct {
	// ISA overrides instruction set detection.
	ISA isa.Arch `env:"ISA"`

	// RuntimeVersion overrides the API level reported by the runtime.
	RuntimeVersion string `env:"RUNTIME_VERSION"`

	// PointerSize overrides the pointer width implied by the ISA.
	PointerSize int `env:"POINTER_SIZE"`

	SmallFunctions SmallFunctionPolicy `env:"SMALL_FUNCTIONS"`

	// PatchThreshold is the smallest compiled code size that is patched in
	// place. Zero means the encoder's direct jump size; smaller values are
	// invalid.
	PatchThreshold int `env:"PATCH_THRESHOLD"`
}

// LoadOptions reads Options from ARTHOOK_* environment variables.
func LoadOptions() (Options, error) {
	return loadOptions(envMap(os.Environ()))
}

func loadOptions(environ map[string]string) (Options, error) {
	var o Options
	err := env.ParseWithOptions(&o, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	})
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return o, nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

// Option configures a Registry.
type Option func(*Registry)

// WithOptions replaces the registry's Options.
func WithOptions(o Options) Option {
	return func(r *Registry) {
		r.opts = o
	}
}

// WithEncoder sets the encoder, skipping instruction set detection.
func WithEncoder(enc isa.Encoder) Option {
	return func(r *Registry) {
		r.enc = enc
	}
}

// WithLogger sets the logger. The default is log.Log.
func WithLogger(l log.Interface) Option {
	return func(r *Registry) {
		r.log = l
	}
}
