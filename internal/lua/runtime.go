// Package lua runs user-supplied evaluator scripts in a sandboxed Lua state.
package lua

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

// Runtime holds a compiled evaluator script. Each call gets a fresh state so
// scripts cannot carry globals from one iteration to the next.
type Runtime struct {
	path  string
	proto *lua.FunctionProto
	logs  []string
}

// NewRuntime reads and compiles the script at path. The script must define
// a global function evaluate(output, task) returning success and feedback.
func NewRuntime(path string) (*Runtime, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString(string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to load script: %w", err)
	}
	return &Runtime{path: path, proto: fn.Proto}, nil
}

// Evaluate calls the script's evaluate function. The returned error covers
// script faults (syntax, runtime errors, missing function, cancellation);
// a script that returns false is not an error.
func (r *Runtime) Evaluate(ctx context.Context, spec *models.WorkflowSpec, output string) (bool, string, error) {
	r.logs = nil
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	r.openSafeLibs(L)
	r.registerAPI(L, spec)

	L.Push(L.NewFunctionFromProto(r.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return false, "", fmt.Errorf("failed to run script: %w", err)
	}

	evaluate := L.GetGlobal("evaluate")
	if evaluate.Type() != lua.LTFunction {
		return false, "", fmt.Errorf("script must define an 'evaluate' function")
	}

	L.Push(evaluate)
	L.Push(lua.LString(output))
	L.Push(lua.LString(spec.TaskPrompt))
	if err := L.PCall(2, 2, nil); err != nil {
		return false, "", fmt.Errorf("evaluate failed: %w", err)
	}

	success := lua.LVAsBool(L.Get(-2))
	var feedback string
	if v := L.Get(-1); v != lua.LNil {
		feedback = v.String()
	}
	L.Pop(2)

	return success, feedback, nil
}

// Logs returns messages passed to log() during the most recent Evaluate.
func (r *Runtime) Logs() []string {
	return r.logs
}

// openSafeLibs loads only the deterministic, side-effect free libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState, spec *models.WorkflowSpec) {
	L.SetGlobal("log", L.NewFunction(r.luaLog))
	L.SetGlobal("context", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		L.SetField(tbl, "name", lua.LString(spec.Name))
		L.SetField(tbl, "task", lua.LString(spec.TaskPrompt))
		L.SetField(tbl, "command", lua.LString(spec.ExecutionCommand))
		L.SetField(tbl, "root", lua.LString(spec.Root))
		L.SetField(tbl, "editable", stringList(L, spec.EditablePaths))
		L.SetField(tbl, "read_only", stringList(L, spec.ReadOnlyPaths))
		L.Push(tbl)
		return 1
	}))
	L.SetGlobal("read_file", L.NewFunction(func(L *lua.LState) int {
		return r.luaReadFile(L, spec)
	}))
}

// luaLog implements log(message)
func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	slog.Debug("evaluator script", "script", filepath.Base(r.path), "message", message)
	return 0
}

// luaReadFile implements read_file(path). Only the workflow's context files
// may be read; anything else returns nil and an error message.
func (r *Runtime) luaReadFile(L *lua.LState, spec *models.WorkflowSpec) int {
	path := filepath.Clean(L.CheckString(1))

	allowed := false
	for _, p := range spec.ContextPaths() {
		if p == path {
			allowed = true
			break
		}
	}
	if !allowed {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("%s is not a context file", path)))
		return 2
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(spec.Root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(string(data)))
	return 1
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	tbl := L.NewTable()
	for _, item := range items {
		tbl.Append(lua.LString(item))
	}
	return tbl
}
