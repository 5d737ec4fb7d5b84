package arthook

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"slices"
	"sort"
	"sync"

	"github.com/apex/log"

	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/isa"
	"github.com/pboyd/arthook/layout"
	"github.com/pboyd/arthook/memory"
)

// Registry owns every hook page and backup in a process.
//
// Install and Uninstall are serialized by the registry, but nothing stops
// other code from patching the same methods concurrently.
type Registry struct {
	rt   art.Runtime
	mem  memory.Service
	enc  isa.Encoder
	acc  *layout.Accessor
	opts Options
	log  log.Interface

	mu     sync.RWMutex
	closed bool

	// pages by memory address of the hooked entry
	pages map[uint64]*hookPage
	// owners maps a hooked source record to its page
	owners map[uint64]*hookPage

	byRecord     map[uint64]*Original
	byIdentifier map[string]*Original
	// byReplacement lists live handles per replacement record, oldest
	// first. One replacement may serve several originals.
	byReplacement map[uint64][]*Original

	// retired backups stay allocated until Close, in case a call is still
	// running through them.
	retired []*Original
}

// NewRegistry returns a registry for rt that patches memory through mem. It
// fails if the instruction set or the runtime version is not supported.
func NewRegistry(rt art.Runtime, mem memory.Service, opts ...Option) (*Registry, error) {
	r := &Registry{
		rt:            rt,
		mem:           mem,
		log:           log.Log,
		pages:         make(map[uint64]*hookPage),
		owners:        make(map[uint64]*hookPage),
		byRecord:      make(map[uint64]*Original),
		byIdentifier:  make(map[string]*Original),
		byReplacement: make(map[uint64][]*Original),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.enc == nil {
		arch := r.opts.ISA
		if arch == 0 {
			// ART always compiles 32-bit ARM code to Thumb2.
			detected, err := isa.Detect(goruntime.GOARCH, true)
			if err != nil {
				return nil, err
			}
			arch = detected
		}
		enc, err := isa.Select(arch)
		if err != nil {
			return nil, err
		}
		r.enc = enc
	}

	if r.opts.PatchThreshold == 0 {
		r.opts.PatchThreshold = r.enc.DirectJumpSize()
	}
	if r.opts.PatchThreshold < r.enc.DirectJumpSize() {
		return nil, fmt.Errorf("%w: patch threshold %d is smaller than a %d byte jump",
			ErrInvalidOptions, r.opts.PatchThreshold, r.enc.DirectJumpSize())
	}

	ptrSize := r.opts.PointerSize
	if ptrSize == 0 {
		ptrSize = r.enc.PointerSize()
	}
	acc, err := layout.NewAccessor(rt, mem, ptrSize, r.opts.RuntimeVersion)
	if err != nil {
		return nil, err
	}
	r.acc = acc

	r.log.WithFields(log.Fields{
		"isa":     r.enc.Name(),
		"layout":  acc.Layout().Name,
		"pointer": ptrSize,
	}).Debug("registry ready")

	return r, nil
}

// Encoder returns the encoder in use.
func (r *Registry) Encoder() isa.Encoder {
	return r.enc
}

// Accessor returns the method record accessor in use.
func (r *Registry) Accessor() *layout.Accessor {
	return r.acc
}

// Install redirects every call of original to replacement and returns a
// handle that still reaches the original behavior. identifier, if not empty,
// makes the handle retrievable with Backup.
//
// Installing over an already hooked method swaps its replacement and returns
// the existing handle.
func (r *Registry) Install(original, replacement art.Method, identifier string) (*Original, error) {
	if err := validate(r.rt, original, replacement); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	logger := r.log.WithFields(log.Fields{
		"original":    art.Describe(original),
		"replacement": art.Describe(replacement),
	})

	if o, ok := r.byRecord[original.Record()]; ok {
		if err := r.swap(o, replacement); err != nil {
			return nil, err
		}
		if identifier != "" && identifier != o.identifier {
			if r.byIdentifier[o.identifier] == o {
				delete(r.byIdentifier, o.identifier)
			}
			o.identifier = identifier
			r.byIdentifier[identifier] = o
		}
		logger.Info("replaced hook")
		return o, nil
	}

	entryPC, err := r.acc.Read(original.Record(), layout.EntryCompiled)
	if err != nil {
		return nil, err
	}
	entry := r.enc.ToMem(entryPC)

	page, exists := r.pages[entry]
	if !exists {
		page, err = r.newPage(original, entryPC)
		if err != nil {
			return nil, err
		}
	}

	backup, err := r.acc.Clone(original)
	if err != nil {
		return nil, err
	}
	if err := r.acc.Demote(backup.Record()); err != nil {
		r.acc.Release(backup)
		return nil, err
	}

	page.add(hook{source: original, replacement: replacement})
	if err := r.update(page); err != nil {
		revertErr := r.revert(page, original.Record(), !exists)
		r.acc.Release(backup)
		if revertErr != nil {
			logger.WithError(revertErr).Error("failed to revert hook page")
		}
		return nil, errors.Join(err, revertErr)
	}

	if !exists {
		r.pages[entry] = page
	}
	r.owners[original.Record()] = page

	o := &Original{
		reg:         r,
		target:      original,
		replacement: replacement,
		backup:      backup,
		identifier:  identifier,
	}
	r.byRecord[original.Record()] = o
	r.addReplacement(o)
	if identifier != "" {
		r.byIdentifier[identifier] = o
	}

	logger.WithFields(log.Fields{
		"entry":  fmt.Sprintf("%#x", entry),
		"hooks":  len(page.hooks),
		"backup": fmt.Sprintf("%#x", backup.Record()),
	}).Info("installed hook")

	return o, nil
}

func (r *Registry) newPage(original art.Method, entryPC uint64) (*hookPage, error) {
	entry := r.enc.ToMem(entryPC)
	logger := r.log.WithField("entry", fmt.Sprintf("%#x", entry))

	codeSize, err := r.acc.CodeSize(entry)
	if err != nil {
		return nil, err
	}

	flags, err := r.acc.Read(original.Record(), layout.AccessFlags)
	if err != nil {
		return nil, err
	}
	logger = logger.WithFields(log.Fields{
		"code_size": codeSize,
		"modifiers": art.Modifiers(flags),
	})
	if flags&art.AccNative != 0 {
		// Native methods share one JNI stub; patching it would hook
		// every native method at once.
		logger.Debug("native method, redirecting entry field")
		return newHookPage(r, entryPC, codeSize, false)
	}

	patch := codeSize >= r.opts.PatchThreshold
	if patch {
		if err := r.checkEntry(entry); err != nil {
			if r.opts.SmallFunctions == RejectSmallFunctions {
				return nil, err
			}
			logger.WithError(err).Warn("redirecting entry fields instead of patching")
			patch = false
		}
	} else if r.opts.SmallFunctions == RejectSmallFunctions {
		return nil, fmt.Errorf("%w: %d bytes at %#x, need %d", ErrFunctionTooSmall, codeSize, entry, r.opts.PatchThreshold)
	}

	return newHookPage(r, entryPC, codeSize, patch)
}

// checkEntry reports why the code at entry cannot be patched, if it can't.
func (r *Registry) checkEntry(entry uint64) error {
	if align := uint64(r.enc.Alignment()); entry%align != 0 {
		return fmt.Errorf("%w: %#x is not %d-byte aligned", ErrUnaligned, entry, align)
	}
	prologue, err := r.mem.Read(entry, r.enc.DirectJumpSize())
	if err != nil {
		return err
	}
	return r.enc.CheckPrologue(prologue)
}

// update regenerates a page and makes it live.
func (r *Registry) update(page *hookPage) error {
	if err := page.rebuild(); err != nil {
		return err
	}
	return page.activate()
}

// revert undoes a failed add of source to page. The page either runs from
// its old region or, if it was just created, is torn down.
func (r *Registry) revert(page *hookPage, source uint64, created bool) error {
	h, ok := page.remove(source)
	if !ok {
		return nil
	}
	if created || len(page.hooks) == 0 {
		return errors.Join(page.release(h), page.deallocate())
	}
	if err := r.update(page); err != nil {
		return err
	}
	return page.release(h)
}

// swap changes the replacement of an installed hook.
func (r *Registry) swap(o *Original, replacement art.Method) error {
	page := r.owners[o.target.Record()]
	prev, _ := page.add(hook{source: o.target, replacement: replacement})
	if err := r.update(page); err != nil {
		page.add(prev)
		return errors.Join(err, r.update(page))
	}

	r.dropReplacement(o)
	o.replacement = replacement
	r.addReplacement(o)
	return nil
}

func (r *Registry) addReplacement(o *Original) {
	key := o.replacement.Record()
	r.byReplacement[key] = append(r.byReplacement[key], o)
}

func (r *Registry) dropReplacement(o *Original) {
	key := o.replacement.Record()
	handles := slices.DeleteFunc(r.byReplacement[key], func(cur *Original) bool {
		return cur == o
	})
	if len(handles) == 0 {
		delete(r.byReplacement, key)
		return
	}
	r.byReplacement[key] = handles
}

// Uninstall removes the hook on original. The page is deallocated when it
// was the last hook on its entry, restoring the original code. Handles to
// the original keep working.
func (r *Registry) Uninstall(original art.Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	o, ok := r.byRecord[original.Record()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHooked, art.Describe(original))
	}
	page := r.owners[original.Record()]

	saved := slices.Clone(page.hooks)
	h, _ := page.remove(original.Record())
	if len(page.hooks) == 0 {
		if err := page.release(h); err != nil {
			page.hooks = saved
			return err
		}
		if err := page.deallocate(); err != nil {
			return err
		}
		delete(r.pages, page.entry)
	} else {
		if err := r.update(page); err != nil {
			// A failed rebuild leaves the old region live, still
			// dispatching to original, so it stays hooked.
			page.hooks = saved
			if page.size != page.requiredSize() {
				err = errors.Join(err, r.update(page))
			}
			return err
		}
		if err := page.release(h); err != nil {
			return err
		}
	}

	delete(r.owners, original.Record())
	delete(r.byRecord, original.Record())
	r.dropReplacement(o)
	if o.identifier != "" && r.byIdentifier[o.identifier] == o {
		delete(r.byIdentifier, o.identifier)
	}
	r.retired = append(r.retired, o)

	r.log.WithField("original", art.Describe(original)).Info("uninstalled hook")
	return nil
}

// Close removes every hook and frees every backup. Handles must not be used
// afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, page := range r.pages {
		if err := page.deallocate(); err != nil {
			errs = append(errs, err)
		}
	}

	backups := r.retired
	for _, o := range r.byRecord {
		backups = append(backups, o)
	}
	for _, o := range backups {
		if err := r.acc.Release(o.backup); err != nil {
			errs = append(errs, err)
		}
	}

	clear(r.pages)
	clear(r.owners)
	clear(r.byRecord)
	clear(r.byIdentifier)
	clear(r.byReplacement)
	r.retired = nil

	return errors.Join(errs...)
}

// Original returns the handle for a hooked method, or nil.
func (r *Registry) Original(m art.Method) *Original {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRecord[m.Record()]
}

// Backup returns the handle installed with identifier, or nil.
func (r *Registry) Backup(identifier string) *Original {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdentifier[identifier]
}

// ByReplacement returns the handle of a hook that m replaces, or nil. A
// replacement uses it to reach the method it stands in for. When m replaces
// several methods the most recently installed hook wins; see
// ReplacedBy for all of them.
func (r *Registry) ByReplacement(m art.Method) *Original {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := r.byReplacement[m.Record()]
	if len(handles) == 0 {
		return nil
	}
	return handles[len(handles)-1]
}

// ReplacedBy returns the handles of every live hook m replaces, oldest
// first.
func (r *Registry) ReplacedBy(m art.Method) []*Original {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byReplacement[m.Record()])
}

// Pages returns a snapshot of every hook page, ordered by entry address.
func (r *Registry) Pages() []PageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PageInfo, 0, len(r.pages))
	for _, p := range r.pages {
		infos = append(infos, p.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Entry < infos[j].Entry
	})
	return infos
}

// Page returns a snapshot of the page for a compiled entry, given as a memory
// address.
func (r *Registry) Page(entry uint64) (PageInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pages[entry]
	if !ok {
		return PageInfo{}, false
	}
	return p.info(), true
}
