// Package dynflag implements the default "dynamic" flag generator (§3:
// "calls out to a user-supplied generator referenced by path"). Each
// dynamic flag's module path names a small JavaScript file; Generator
// compiles it once and evaluates it in a fresh goja.Runtime per lookup (see
// DESIGN.md).
package dynflag

import (
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
)

// Generator resolves a dynamic flag's per-user value by running the
// generator script named by a flag's module path. Compiled programs are
// cached by path so repeated lookups against the same flag don't re-parse
// the script.
type Generator struct {
	mu       sync.Mutex
	programs map[string]*goja.Program
}

// New builds an empty Generator.
func New() *Generator {
	return &Generator{programs: make(map[string]*goja.Program)}
}

// Generate loads (or reuses the cached compile of) the script at
// modulePath and invokes its top-level `generate(uid, challengeKey)`
// function, which must return the flag string for that user, e.g.:
//
//	function generate(uid, challengeKey) {
//	  return "flag{" + uid + "_" + challengeKey + "}";
//	}
//
// This method has the shape of projection.DynamicFlagGenerator and is
// meant to be passed directly as that field.
func (g *Generator) Generate(modulePath string, uid int64, challengeKey string) (string, error) {
	prog, err := g.compile(modulePath)
	if err != nil {
		return "", err
	}

	rt := goja.New()
	if _, err := rt.RunProgram(prog); err != nil {
		return "", fmt.Errorf("dynflag: run %s: %w", modulePath, err)
	}

	fn, ok := goja.AssertFunction(rt.Get("generate"))
	if !ok {
		return "", fmt.Errorf("dynflag: %s does not define a generate function", modulePath)
	}

	result, err := fn(goja.Undefined(), rt.ToValue(uid), rt.ToValue(challengeKey))
	if err != nil {
		return "", fmt.Errorf("dynflag: %s: %w", modulePath, err)
	}

	flag, ok := result.Export().(string)
	if !ok {
		return "", fmt.Errorf("dynflag: %s: generate() must return a string", modulePath)
	}
	return flag, nil
}

func (g *Generator) compile(modulePath string) (*goja.Program, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prog, ok := g.programs[modulePath]; ok {
		return prog, nil
	}

	src, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, fmt.Errorf("dynflag: read %s: %w", modulePath, err)
	}
	prog, err := goja.Compile(modulePath, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("dynflag: compile %s: %w", modulePath, err)
	}
	g.programs[modulePath] = prog
	return prog, nil
}
