// Package alloc implements TaskAllocator (§4.1): splitting a generation
// plan's total sample budget across scenario x operation cells by
// proportion, then into fixed-size batches with structure labels.
package alloc

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// GenerationPlan is the yaml-sourced input to allocation: a total sample
// budget distributed across scenarios and operations by proportion, with a
// workflow/single structure breakdown and a batch size cap.
type GenerationPlan struct {
	Name          string             `yaml:"name"`
	TotalSamples  int                `yaml:"total_samples"`
	Scenarios     map[string]float64 `yaml:"scenarios"`
	Operations    map[string]float64 `yaml:"operations"`
	WorkflowPct   float64            `yaml:"workflow_pct"`
	BatchSize     int                `yaml:"batch_size"`
}

// LoadPlan parses a GenerationPlan from its YAML representation.
func LoadPlan(raw []byte) (*GenerationPlan, error) {
	var p GenerationPlan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("alloc: parse plan: %w", err)
	}
	return &p, nil
}

// TaskBatch is one unit of generation work: a fixed-size slice of a single
// (scenario, operation) cell, with the structure label (single/workflow)
// assigned to each sample in the batch.
type TaskBatch struct {
	BatchID    int      `json:"batch_id"`
	Scenario   string   `json:"scenario"`
	Operation  string   `json:"operation"`
	Count      int      `json:"count"`
	Structures []string `json:"structures"`
}

const (
	structureSingle   = "single"
	structureWorkflow = "workflow"
)

// Allocate computes the ordered TaskBatch schedule for a plan. Identical
// plan inputs always yield an identical schedule (§4.1 "Determinism"):
// every map is walked in sorted-key order, and ties in the fractional-part
// distribution break by key.
func Allocate(p *GenerationPlan) ([]TaskBatch, error) {
	if p.BatchSize <= 0 {
		return nil, fmt.Errorf("alloc: batch_size must be positive, got %d", p.BatchSize)
	}
	scenarios := sortedKeys(p.Scenarios)
	operations := sortedKeys(p.Operations)
	if len(scenarios) == 0 || len(operations) == 0 {
		return nil, fmt.Errorf("alloc: plan must name at least one scenario and one operation")
	}

	var cellCounts map[cellKey]int
	if p.TotalSamples <= 2*len(operations) {
		cellCounts = allocateSmallSample(p, scenarios, operations)
	} else {
		cellCounts = allocateNormal(p, scenarios, operations)
	}

	return batchCells(cellCounts, scenarios, operations, p.BatchSize, p.WorkflowPct), nil
}

type cellKey struct {
	scenario  string
	operation string
}

// allocateSmallSample guarantees every operation appears at least once:
// operations are visited in descending-proportion order (ties broken by
// name), each claiming one sample from scenarios taken round-robin, until
// the budget is exhausted.
func allocateSmallSample(p *GenerationPlan, scenarios, operations []string) map[cellKey]int {
	ordered := append([]string{}, operations...)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := p.Operations[ordered[i]], p.Operations[ordered[j]]
		if pi != pj {
			return pi > pj
		}
		return ordered[i] < ordered[j]
	})

	counts := map[cellKey]int{}
	remaining := p.TotalSamples
	scenarioIdx := 0
	for _, op := range ordered {
		if remaining <= 0 {
			break
		}
		s := scenarios[scenarioIdx%len(scenarios)]
		scenarioIdx++
		counts[cellKey{s, op}]++
		remaining--
	}

	// Any leftover budget (total_samples > len(operations) but still within
	// the small-sample threshold) is distributed the same round-robin way.
	i := 0
	for remaining > 0 {
		op := ordered[i%len(ordered)]
		s := scenarios[scenarioIdx%len(scenarios)]
		scenarioIdx++
		counts[cellKey{s, op}]++
		remaining--
		i++
	}
	return counts
}

// allocateNormal floors each theoretical cell, distributes the remainder
// by descending fractional part (ties broken by scenario then operation
// name), and corrects any over-allocation by decrementing the largest
// cells -- a defensive branch since proportions summing to 1±0.01 make
// over-allocation effectively impossible, never actually exercised in
// sandbox fixtures.
func allocateNormal(p *GenerationPlan, scenarios, operations []string) map[cellKey]int {
	type cell struct {
		key  cellKey
		frac float64
	}

	counts := map[cellKey]int{}
	var cells []cell
	floorSum := 0

	for _, s := range scenarios {
		for _, o := range operations {
			theoretical := float64(p.TotalSamples) * p.Scenarios[s] * p.Operations[o]
			floor := int(theoretical)
			counts[cellKey{s, o}] = floor
			floorSum += floor
			cells = append(cells, cell{key: cellKey{s, o}, frac: theoretical - float64(floor)})
		}
	}

	remainder := p.TotalSamples - floorSum
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].frac != cells[j].frac {
			return cells[i].frac > cells[j].frac
		}
		if cells[i].key.scenario != cells[j].key.scenario {
			return cells[i].key.scenario < cells[j].key.scenario
		}
		return cells[i].key.operation < cells[j].key.operation
	})

	for i := 0; i < remainder && i < len(cells); i++ {
		counts[cells[i].key]++
	}
	over := -remainder
	if over > 0 {
		sort.SliceStable(cells, func(i, j int) bool {
			ci, cj := counts[cells[i].key], counts[cells[j].key]
			if ci != cj {
				return ci > cj
			}
			if cells[i].key.scenario != cells[j].key.scenario {
				return cells[i].key.scenario < cells[j].key.scenario
			}
			return cells[i].key.operation < cells[j].key.operation
		})
	}
	for i := 0; i < over && i < len(cells); i++ {
		counts[cells[i].key]--
	}

	return counts
}

// batchCells partitions each cell's count into batches of at most
// batchSize, assigning sequential batch ids in scenario-then-operation
// order, and labels each batch's samples single/workflow per workflowPct.
func batchCells(counts map[cellKey]int, scenarios, operations []string, batchSize int, workflowPct float64) []TaskBatch {
	var batches []TaskBatch
	batchID := 0
	for _, s := range scenarios {
		for _, o := range operations {
			remaining := counts[cellKey{s, o}]
			for remaining > 0 {
				n := remaining
				if n > batchSize {
					n = batchSize
				}
				batches = append(batches, TaskBatch{
					BatchID:    batchID,
					Scenario:   s,
					Operation:  o,
					Count:      n,
					Structures: structureLabels(n, workflowPct),
				})
				batchID++
				remaining -= n
			}
		}
	}
	return batches
}

// structureLabels composes round(count*workflowPct) workflow labels
// followed by single labels for the rest (§4.1).
func structureLabels(count int, workflowPct float64) []string {
	nWorkflow := int(float64(count)*workflowPct + 0.5)
	if nWorkflow > count {
		nWorkflow = count
	}
	labels := make([]string, count)
	for i := 0; i < count; i++ {
		if i < nWorkflow {
			labels[i] = structureWorkflow
		} else {
			labels[i] = structureSingle
		}
	}
	return labels
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
