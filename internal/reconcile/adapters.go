package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Confidence assigned to edges from each artifact kind.
const (
	ConfidenceOpenLineage = 0.8
	ConfidenceDBT         = 0.75
	ConfidenceAirflow     = 0.6
	ConfidenceMetadata    = 0.7
)

// link is one dependency extracted from an artifact, before it becomes an edge.
type link struct {
	source     string
	target     string
	annotation string
	createdAt  time.Time
}

// adapter turns a decoded payload into links. Records missing required keys
// are reported in skipped and do not stop the batch.
type adapter func(payload any) (links []link, skipped []error)

func adapterFor(kind core.BatchKind) (adapter, float64, core.RelationKind) {
	switch kind {
	case core.BatchOpenLineage:
		return openLineageLinks, ConfidenceOpenLineage, core.RelOpenLineage
	case core.BatchDBT:
		return dbtLinks, ConfidenceDBT, core.RelDBTDependency
	case core.BatchAirflow:
		return airflowLinks, ConfidenceAirflow, core.RelAirflowDependency
	case core.BatchMetadata:
		return metadataLinks, ConfidenceMetadata, core.RelMetadata
	}
	return nil, 0, ""
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// --- openlineage ---

type olDataset struct {
	Namespace string `mapstructure:"namespace"`
	Name      string `mapstructure:"name"`
}

type olEvent struct {
	EventTime string `mapstructure:"eventTime"`
	Job       struct {
		Namespace string `mapstructure:"namespace"`
		Name      string `mapstructure:"name"`
	} `mapstructure:"job"`
	Inputs  []olDataset `mapstructure:"inputs"`
	Outputs []olDataset `mapstructure:"outputs"`
}

// openLineageLinks accepts one run event, a list of events, or {events: [...]}.
func openLineageLinks(payload any) ([]link, []error) {
	var records []any
	switch p := payload.(type) {
	case []any:
		records = p
	case map[string]any:
		if events, ok := p["events"].([]any); ok {
			records = events
		} else {
			records = []any{p}
		}
	default:
		return nil, []error{core.ErrMalformed(core.BatchOpenLineage, "payload must be an event or a list of events")}
	}

	var links []link
	var skipped []error
	for i, rec := range records {
		var ev olEvent
		if err := decode(rec, &ev); err != nil {
			skipped = append(skipped, core.ErrMalformed(core.BatchOpenLineage, "event %d: %v", i, err))
			continue
		}
		if len(ev.Inputs) == 0 || len(ev.Outputs) == 0 {
			skipped = append(skipped, core.ErrMalformed(core.BatchOpenLineage, "event %d: inputs and outputs are required", i))
			continue
		}
		var createdAt time.Time
		if ts, err := time.Parse(time.RFC3339Nano, ev.EventTime); err == nil {
			createdAt = ts.UTC()
		}
		for _, in := range ev.Inputs {
			for _, out := range ev.Outputs {
				if in.Name == "" || out.Name == "" {
					skipped = append(skipped, core.ErrMalformed(core.BatchOpenLineage, "event %d: dataset without name", i))
					continue
				}
				links = append(links, link{source: in.Name, target: out.Name, annotation: ev.Job.Name, createdAt: createdAt})
			}
		}
	}
	return links, skipped
}

// --- dbt ---

type dbtNode struct {
	Name      string `mapstructure:"name"`
	UniqueID  string `mapstructure:"unique_id"`
	DependsOn any    `mapstructure:"depends_on"`
}

func (n dbtNode) id() string {
	if n.Name != "" {
		return n.Name
	}
	return n.UniqueID
}

// dependencies accepts depends_on as a list or as {nodes: [...]}.
func (n dbtNode) dependencies() ([]string, error) {
	switch d := n.DependsOn.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		var deps []string
		if err := decode(d["nodes"], &deps); err != nil {
			return nil, err
		}
		return deps, nil
	default:
		var deps []string
		if err := decode(d, &deps); err != nil {
			return nil, err
		}
		return deps, nil
	}
}

// dbtLinks accepts {nodes: [...]} or a manifest with nodes keyed by unique_id.
func dbtLinks(payload any) ([]link, []error) {
	root, ok := payload.(map[string]any)
	if !ok {
		return nil, []error{core.ErrMalformed(core.BatchDBT, "payload must be an object with nodes")}
	}

	var records []any
	switch nodes := root["nodes"].(type) {
	case []any:
		records = nodes
	case map[string]any:
		for _, key := range sortedKeys(nodes) {
			rec, ok := nodes[key].(map[string]any)
			if !ok {
				records = append(records, nodes[key])
				continue
			}
			if _, has := rec["unique_id"]; !has {
				rec["unique_id"] = key
			}
			records = append(records, rec)
		}
	default:
		return nil, []error{core.ErrMalformed(core.BatchDBT, "nodes is required")}
	}

	var links []link
	var skipped []error
	for i, rec := range records {
		var node dbtNode
		if err := decode(rec, &node); err != nil {
			skipped = append(skipped, core.ErrMalformed(core.BatchDBT, "node %d: %v", i, err))
			continue
		}
		if node.id() == "" {
			skipped = append(skipped, core.ErrMalformed(core.BatchDBT, "node %d: name or unique_id is required", i))
			continue
		}
		deps, err := node.dependencies()
		if err != nil {
			skipped = append(skipped, core.ErrMalformed(core.BatchDBT, "node %s: depends_on: %v", node.id(), err))
			continue
		}
		for _, dep := range deps {
			if dep = strings.TrimSpace(dep); dep != "" {
				links = append(links, link{source: dep, target: node.id()})
			}
		}
	}
	return links, skipped
}

// --- airflow ---

type airflowTask struct {
	TaskID          string   `mapstructure:"task_id"`
	Upstream        []string `mapstructure:"upstream"`
	UpstreamTaskIDs []string `mapstructure:"upstream_task_ids"`
}

type airflowDAG struct {
	DagID string `mapstructure:"dag_id"`
	Tasks []any  `mapstructure:"tasks"`
}

// airflowLinks accepts {dag_id, tasks: [...]} or a bare task list.
func airflowLinks(payload any) ([]link, []error) {
	var dag airflowDAG
	switch p := payload.(type) {
	case []any:
		dag.Tasks = p
	case map[string]any:
		if err := decode(p, &dag); err != nil {
			return nil, []error{core.ErrMalformed(core.BatchAirflow, "%v", err)}
		}
		if dag.Tasks == nil {
			return nil, []error{core.ErrMalformed(core.BatchAirflow, "tasks is required")}
		}
	default:
		return nil, []error{core.ErrMalformed(core.BatchAirflow, "payload must be a dag or a task list")}
	}

	var links []link
	var skipped []error
	for i, rec := range dag.Tasks {
		var task airflowTask
		if err := decode(rec, &task); err != nil {
			skipped = append(skipped, core.ErrMalformed(core.BatchAirflow, "task %d: %v", i, err))
			continue
		}
		if task.TaskID == "" {
			skipped = append(skipped, core.ErrMalformed(core.BatchAirflow, "task %d: task_id is required", i))
			continue
		}
		for _, up := range append(task.Upstream, task.UpstreamTaskIDs...) {
			if up != "" {
				links = append(links, link{source: up, target: task.TaskID, annotation: dag.DagID})
			}
		}
	}
	return links, skipped
}

// --- metadata ---

type metadataRelationship struct {
	Source       string `mapstructure:"source"`
	Target       string `mapstructure:"target"`
	Relationship string `mapstructure:"relationship"`
}

func metadataLinks(payload any) ([]link, []error) {
	root, ok := payload.(map[string]any)
	if !ok {
		return nil, []error{core.ErrMalformed(core.BatchMetadata, "payload must be an object with relationships")}
	}
	records, ok := root["relationships"].([]any)
	if !ok {
		return nil, []error{core.ErrMalformed(core.BatchMetadata, "relationships is required")}
	}

	var links []link
	var skipped []error
	for i, rec := range records {
		var rel metadataRelationship
		if err := decode(rec, &rel); err != nil {
			skipped = append(skipped, core.ErrMalformed(core.BatchMetadata, "relationship %d: %v", i, err))
			continue
		}
		if rel.Source == "" || rel.Target == "" {
			skipped = append(skipped, core.ErrMalformed(core.BatchMetadata, "relationship %d: source and target are required", i))
			continue
		}
		links = append(links, link{source: rel.Source, target: rel.Target, annotation: rel.Relationship})
	}
	return links, skipped
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
