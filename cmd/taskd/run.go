package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/chazu/taskd/config"
	"github.com/chazu/taskd/fsops"
	"github.com/chazu/taskd/protocol"
	"github.com/chazu/taskd/server"
	"github.com/chazu/taskd/vm"
)

// runLocal executes the recipe in path on a fresh agent, writing each
// report to out as a JSON line followed by the completion value, which it
// also returns. Files ending in .cbor are decoded as CBOR, anything else
// as JSON.
func runLocal(cfg *config.Config, path string, out io.Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var codec protocol.Codec = protocol.JSONCodec{}
	if filepath.Ext(path) == ".cbor" {
		codec = protocol.CBORCodec{}
	}
	var msg any
	if err := codec.NewDecoder(f).Decode(&msg); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	prog, err := protocol.ParseRecipe(msg)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("running %s:\n%s", path, vm.Disassemble(prog))

	agent := server.Start(fsops.New(cfg.VM.Seed), cfg.VM.QueueSize)
	defer agent.Stop()

	var werr error
	agent.SetReportSink(func(values []vm.Value) {
		line, err := json.Marshal(protocol.NewReport(values))
		if err == nil {
			_, err = fmt.Fprintf(out, "%s\n", line)
		}
		if err != nil && werr == nil {
			werr = err
		}
	})
	job, err := agent.Submit(prog)
	if err != nil {
		return 0, err
	}
	value := job.Wait()
	agent.ClearReportSink()
	if werr != nil {
		return 0, werr
	}

	_, err = fmt.Fprintf(out, "return %d\n", value)
	return value, err
}
