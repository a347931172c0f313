package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/rserv-dev/rserv/pkg/resterr"
	"github.com/rserv-dev/rserv/pkg/storage"
)

// indexFile is the on-disk shape of graph.index. The checksum covers the
// serialised payload; a mismatch at boot forces a rebuild from documents.
type indexFile struct {
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

type indexPayload struct {
	Edges       []persistedEdge                           `json:"edges"`
	NodesByType map[string][]int64                        `json:"nodes_by_type"`
	Properties  map[string]map[string]map[string][]int64  `json:"properties_by_type_field_value"`
}

type persistedEdge struct {
	FromEntity string `json:"from_entity"`
	FromID     int64  `json:"from_id"`
	Label      string `json:"label"`
	ToEntity   string `json:"to_entity"`
	ToID       int64  `json:"to_id"`
}

type persister struct {
	path string
	log  *zap.Logger
}

// snapshotLocked captures the persistable state. Caller holds at least a
// read lock.
func (x *Index) snapshotLocked() indexPayload {
	p := indexPayload{
		NodesByType: make(map[string][]int64, len(x.byType)),
		Properties:  make(map[string]map[string]map[string][]int64, len(x.props)),
	}
	for _, es := range x.out {
		for _, e := range es {
			p.Edges = append(p.Edges, persistedEdge{
				FromEntity: e.From.Entity,
				FromID:     e.From.ID,
				Label:      e.Label,
				ToEntity:   e.To.Entity,
				ToID:       e.To.ID,
			})
		}
	}
	for entity, nodes := range x.byType {
		ids := make([]int64, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		p.NodesByType[entity] = ids
	}
	for entity, fields := range x.props {
		pf := make(map[string]map[string][]int64, len(fields))
		for field, values := range fields {
			pv := make(map[string][]int64, len(values))
			for key, nodes := range values {
				ids := make([]int64, len(nodes))
				for i, n := range nodes {
					ids[i] = n.ID
				}
				pv[key] = ids
			}
			pf[field] = pv
		}
		p.Properties[entity] = pf
	}
	return p
}

func (p *persister) write(payload indexPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return resterr.Storage(err, "encoding edge index")
	}
	sum := sha256.Sum256(raw)
	file, err := json.Marshal(indexFile{Checksum: hex.EncodeToString(sum[:]), Payload: raw})
	if err != nil {
		return resterr.Storage(err, "encoding edge index file")
	}
	return storage.WriteFileAtomic(p.path, file)
}

// Load restores the index from graph.index. Returns false when the file is
// absent or fails its checksum; the caller rebuilds from documents.
func (x *Index) Load() (bool, error) {
	if x.persist == nil {
		return false, nil
	}
	raw, err := os.ReadFile(x.persist.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, resterr.Storage(err, "reading edge index %s", x.persist.path)
	}

	var file indexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		x.log.Warn("edge index unreadable, rebuilding", zap.Error(err))
		return false, nil
	}
	sum := sha256.Sum256(file.Payload)
	if hex.EncodeToString(sum[:]) != file.Checksum {
		x.log.Warn("edge index checksum mismatch, rebuilding")
		return false, nil
	}
	var payload indexPayload
	if err := json.Unmarshal(file.Payload, &payload); err != nil {
		x.log.Warn("edge index payload corrupt, rebuilding", zap.Error(err))
		return false, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.out = make(map[NodeRef][]Edge)
	x.in = make(map[NodeRef][]Edge)
	x.byType = make(map[string][]NodeRef)
	x.props = make(map[string]map[string]map[string][]NodeRef)

	for entity, ids := range payload.NodesByType {
		nodes := make([]NodeRef, len(ids))
		for i, id := range ids {
			nodes[i] = NodeRef{Entity: entity, ID: id}
		}
		x.byType[entity] = nodes
	}
	for _, pe := range payload.Edges {
		e := Edge{
			From:  NodeRef{Entity: pe.FromEntity, ID: pe.FromID},
			Label: pe.Label,
			To:    NodeRef{Entity: pe.ToEntity, ID: pe.ToID},
		}
		x.out[e.From] = append(x.out[e.From], e)
		x.in[e.To] = append(x.in[e.To], e)
	}
	for from := range x.out {
		sortEdges(x.out[from])
	}
	for to := range x.in {
		sortEdges(x.in[to])
	}
	for entity, fields := range payload.Properties {
		pf := make(map[string]map[string][]NodeRef, len(fields))
		for field, values := range fields {
			pv := make(map[string][]NodeRef, len(values))
			for key, ids := range values {
				nodes := make([]NodeRef, len(ids))
				for i, id := range ids {
					nodes[i] = NodeRef{Entity: entity, ID: id}
				}
				pv[key] = nodes
			}
			pf[field] = pv
		}
		x.props[entity] = pf
	}
	return true, nil
}
