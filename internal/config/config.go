// Package config assembles the launcher's settings from three sources, in
// increasing precedence: compiled-in defaults, an optional JSON tuning file,
// and command-line flags. The tuning file is decoded with
// github.com/andreyvit/tinyjson's decode-without-a-struct approach rather
// than a tagged struct schema. Free-form extra simulator arguments are
// tokenized with github.com/google/shlex, the same way an operator-supplied
// shell snippet would be split.
package config

import (
	"errors"
	"flag"
	"os"

	"github.com/andreyvit/tinyjson"
	"github.com/google/shlex"
)

// Defaults mirror the data model's fixed constants and the request server's
// recommended worker floor.
const (
	DefaultPort          = 9000
	DefaultWorkers       = 10
	DefaultQueueCapacity = 0 // unbounded
	DefaultMemorySize    = 1 << 30
)

// Config is the launcher's resolved settings.
type Config struct {
	Port           int
	Verbosity      string
	GUI            bool
	InputArchive   string
	ExtraSimArgs   []string
	Workers        int
	QueueCapacity  int
	MemorySize     int
}

// tuning is the optional JSON override file's shape, decoded field-by-field
// via tinyjson.Raw and a loosely-typed map rather than struct tags.
type tuning struct {
	Workers       *int `json:"workers"`
	QueueCapacity *int `json:"queue_capacity"`
	MemorySize    *int `json:"memory_size"`
}

// Parse builds a Config from argv (typically os.Args[1:]). tuningPath, if
// non-empty, names a JSON file whose fields override the compiled-in
// defaults before flags are applied; flags always win.
func Parse(argv []string, tuningPath string) (Config, error) {
	cfg := Config{
		Port: DefaultPort, Verbosity: "info",
		Workers: DefaultWorkers, QueueCapacity: DefaultQueueCapacity, MemorySize: DefaultMemorySize,
	}

	if tuningPath != "" {
		t, err := loadTuning(tuningPath)
		if err != nil {
			return Config{}, err
		}
		if t.Workers != nil {
			cfg.Workers = *t.Workers
		}
		if t.QueueCapacity != nil {
			cfg.QueueCapacity = *t.QueueCapacity
		}
		if t.MemorySize != nil {
			cfg.MemorySize = *t.MemorySize
		}
	}

	fs := flag.NewFlagSet("tapasco-sim-server", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "request server listen port")
	verbosity := fs.String("verbosity", cfg.Verbosity, "log level (trace, debug, info, warn, error)")
	gui := fs.Bool("gui", false, "run with the simulator's waveform GUI attached")
	archive := fs.String("input-archive", "", "path to the bitstream/design archive to load")
	extra := fs.String("sim-args", "", "extra simulator arguments, shell-quoted")
	if err := fs.Parse(argv); err != nil {
		return Config{}, err
	}

	cfg.Port = *port
	cfg.Verbosity = *verbosity
	cfg.GUI = *gui
	cfg.InputArchive = *archive

	if *extra != "" {
		args, err := shlex.Split(*extra)
		if err != nil {
			return Config{}, err
		}
		cfg.ExtraSimArgs = args
	}

	if cfg.InputArchive == "" {
		return Config{}, errors.New("config: -input-archive is required")
	}
	return cfg, nil
}

func loadTuning(path string) (tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tuning{}, err
	}

	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return tuning{}, errors.New("config: tuning file is not a JSON object")
	}

	var t tuning
	if v, ok := m["workers"].(float64); ok {
		n := int(v)
		t.Workers = &n
	}
	if v, ok := m["queue_capacity"].(float64); ok {
		n := int(v)
		t.QueueCapacity = &n
	}
	if v, ok := m["memory_size"].(float64); ok {
		n := int(v)
		t.MemorySize = &n
	}
	return t, nil
}
