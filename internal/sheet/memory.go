package sheet

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Memory is an in-process Client. It backs local runs with STORE_BACKEND=memory
// and doubles as the fault-injecting store in tests.
type Memory struct {
	mu      sync.Mutex
	order   []string
	regions map[string][][]string
	faults  map[string][]error
	reads   map[string]int
	calls   map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		regions: make(map[string][][]string),
		faults:  make(map[string][]error),
		reads:   make(map[string]int),
		calls:   make(map[string]int),
	}
}

// Seed replaces a region with the given rows, header first.
func (m *Memory) Seed(name string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[name]; !ok {
		m.order = append(m.order, name)
	}
	m.regions[name] = cloneRows(rows)
}

// FailNext queues errors returned by the next calls of op ("list", "read",
// "append", "update", "create") on region. An empty region matches any.
func (m *Memory) FailNext(op, region string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + ":" + region
	m.faults[key] = append(m.faults[key], errs...)
}

// Reads reports how many successful ReadRegion calls hit region.
func (m *Memory) Reads(region string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[region]
}

// Calls reports how many times op was attempted, faults included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Rows returns a copy of a region, header included.
func (m *Memory) Rows(name string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRows(m.regions[name])
}

// Drop deletes a region, as if its tab had been removed by hand.
func (m *Memory) Drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
}

// Regions lists region names in creation order.
func (m *Memory) Regions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

func (m *Memory) ListRegions(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("list", ""); err != nil {
		return nil, err
	}
	return slices.Clone(m.order), nil
}

func (m *Memory) ReadRegion(_ context.Context, name string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("read", name); err != nil {
		return nil, err
	}
	rows, ok := m.regions[name]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", name, ErrNoRegion)
	}
	m.reads[name]++
	return cloneRows(rows), nil
}

func (m *Memory) AppendRow(_ context.Context, name string, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("append", name); err != nil {
		return err
	}
	rows, ok := m.regions[name]
	if !ok {
		return fmt.Errorf("append %q: %w", name, ErrNoRegion)
	}
	m.regions[name] = append(rows, slices.Clone(row))
	return nil
}

func (m *Memory) UpdateRow(_ context.Context, name string, index int, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("update", name); err != nil {
		return err
	}
	rows, ok := m.regions[name]
	if !ok {
		return fmt.Errorf("update %q: %w", name, ErrNoRegion)
	}
	if index < 0 {
		return fmt.Errorf("update %q: negative row index %d", name, index)
	}
	for len(rows) <= index {
		rows = append(rows, nil)
	}
	rows[index] = slices.Clone(row)
	m.regions[name] = rows
	return nil
}

func (m *Memory) CreateRegion(_ context.Context, name string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("create", name); err != nil {
		return err
	}
	rows, ok := m.regions[name]
	if !ok {
		m.order = append(m.order, name)
		m.regions[name] = [][]string{slices.Clone(header)}
		return nil
	}
	if len(rows) == 0 {
		rows = append(rows, nil)
	}
	rows[0] = slices.Clone(header)
	m.regions[name] = rows
	return nil
}

// fault pops a queued error. Callers hold m.mu.
func (m *Memory) fault(op, region string) error {
	m.calls[op]++
	for _, key := range []string{op + ":" + region, op + ":"} {
		queue := m.faults[key]
		if len(queue) == 0 {
			continue
		}
		m.faults[key] = queue[1:]
		return queue[0]
	}
	return nil
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = slices.Clone(row)
	}
	return out
}
