package graph

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML description of a task graph.
type File struct {
	Name    string       `yaml:"name"`
	Buffers []BufferSpec `yaml:"buffers"`
	Tasks   []TaskSpec   `yaml:"tasks"`
}

// BufferSpec declares a buffer. Size accepts human sizes such as "4KiB".
type BufferSpec struct {
	Name    string `yaml:"name"`
	Size    string `yaml:"size,omitempty"`
	Space   string `yaml:"space,omitempty"`
	AliasOf string `yaml:"alias_of,omitempty"`
}

// TaskSpec declares a task. Dependencies and buffers are referenced by name.
type TaskSpec struct {
	Name       string   `yaml:"name"`
	Executor   string   `yaml:"executor"`
	Port       int      `yaml:"port,omitempty"`
	Variants   int      `yaml:"variants,omitempty"`
	Copy       string   `yaml:"copy,omitempty"`
	Timestamp  bool     `yaml:"timestamp,omitempty"`
	GraphInput bool     `yaml:"graph_input,omitempty"`
	Deps       []string `yaml:"deps,omitempty"`
	Reads      []string `yaml:"reads,omitempty"`
	Writes     []string `yaml:"writes,omitempty"`
}

// Load reads a YAML graph file and builds a validated DAG.
func Load(path string) (*DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, nil
}

// Parse builds a validated DAG from YAML bytes.
func Parse(data []byte) (*DAG, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Build()
}

// Build converts the file description into a DAG and validates it.
func (f *File) Build() (*DAG, error) {
	d := NewDAG(f.Name)

	for _, spec := range f.Buffers {
		if spec.AliasOf != "" {
			of, ok := d.BufferByName(spec.AliasOf)
			if !ok {
				return nil, fmt.Errorf("buffer %q aliases %q: %w", spec.Name, spec.AliasOf, ErrUnknownBuffer)
			}
			if _, err := d.AddAlias(spec.Name, of); err != nil {
				return nil, err
			}
			continue
		}
		size, err := units.RAMInBytes(spec.Size)
		if err != nil {
			return nil, fmt.Errorf("buffer %q: invalid size %q: %w", spec.Name, spec.Size, err)
		}
		if _, err := d.AddBuffer(spec.Name, size, ParseMemSpace(spec.Space)); err != nil {
			return nil, err
		}
	}

	// Tasks may depend on tasks declared later, so IDs are assigned by position first
	ids := make(map[string]TaskID, len(f.Tasks))
	for i, spec := range f.Tasks {
		ids[spec.Name] = TaskID(i)
	}

	for _, spec := range f.Tasks {
		exec, err := ParseExecutorKind(spec.Executor)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", spec.Name, err)
		}
		copyKind, err := ParseCopyKind(spec.Copy)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", spec.Name, err)
		}

		task := &Task{
			Name:       spec.Name,
			Executor:   exec,
			Port:       spec.Port,
			Variants:   spec.Variants,
			Copy:       copyKind,
			Timestamp:  spec.Timestamp,
			GraphInput: spec.GraphInput,
		}
		for _, dep := range spec.Deps {
			id, ok := ids[dep]
			if !ok {
				return nil, fmt.Errorf("task %q depends on %q: %w", spec.Name, dep, ErrUnknownTask)
			}
			task.DependsOn = append(task.DependsOn, id)
		}
		if task.Reads, err = lookupBuffers(d, spec.Name, spec.Reads); err != nil {
			return nil, err
		}
		if task.Writes, err = lookupBuffers(d, spec.Name, spec.Writes); err != nil {
			return nil, err
		}
		if _, err := d.AddTask(task); err != nil {
			return nil, err
		}
	}

	if _, err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func lookupBuffers(d *DAG, task string, names []string) ([]BufferID, error) {
	out := make([]BufferID, 0, len(names))
	for _, name := range names {
		id, ok := d.BufferByName(name)
		if !ok {
			return nil, fmt.Errorf("task %q uses %q: %w", task, name, ErrUnknownBuffer)
		}
		out = append(out, id)
	}
	return out, nil
}

// Fingerprint hashes the structure of the graph (tasks, edges, buffer sizes).
// Names are excluded so that renaming does not change the fingerprint.
func (d *DAG) Fingerprint() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := xxhash.New()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}

	put(int64(len(d.buffers)))
	for _, b := range d.buffers {
		put(b.Size)
		put(int64(d.roots[b.ID]))
		_, _ = h.WriteString(string(b.Space))
	}
	put(int64(len(d.tasks)))
	for _, t := range d.tasks {
		put(int64(t.Executor))
		put(int64(t.Port))
		put(int64(t.Variants))
		put(int64(t.Copy))
		for _, dep := range t.DependsOn {
			put(int64(dep))
		}
		put(-1)
		for _, b := range t.Reads {
			put(int64(b))
		}
		put(-2)
		for _, b := range t.Writes {
			put(int64(b))
		}
		put(-3)
	}
	return h.Sum64()
}
