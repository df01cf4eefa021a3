package compile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codykingham/context-fabric/cferr"
	"github.com/codykingham/context-fabric/storage"
)

// ParseSource reads a minimal line-oriented grammar used only to
// exercise Compile end-to-end in this package's own tests; it is not a
// general tokenizer for any authored corpus format (spec.md §1 places
// that front-end out of scope). One declaration per line:
//
//	TYPE <name> <level> <firstNode> <lastNode>
//	SLOT <node> <text>
//	SPAN <node> <slot>...
//	FEAT <node> <name> <value>
//	EDGE <name> <src> <dst> [value]
//
// Blank lines and lines starting with "#" are ignored.
func ParseSource(text string, maxSlot, maxNode storage.NodeID) (*SourceCorpus, error) {
	corpus := NewSourceCorpus(maxSlot, maxNode)
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var err error
		switch fields[0] {
		case "TYPE":
			err = parseType(corpus, fields)
		case "SLOT":
			err = parseSlot(corpus, fields)
		case "SPAN":
			err = parseSpan(corpus, fields)
		case "FEAT":
			err = parseFeat(corpus, fields)
		case "EDGE":
			err = parseEdge(corpus, fields)
		default:
			err = fmt.Errorf("unknown directive %q", fields[0])
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", cferr.ErrCompilerFailure, lineNo+1, err)
		}
	}
	return corpus, nil
}

func parseType(corpus *SourceCorpus, fields []string) error {
	if len(fields) != 5 {
		return fmt.Errorf("TYPE wants 4 args, got %d", len(fields)-1)
	}
	level, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("TYPE level: %w", err)
	}
	first, err := parseNodeID(fields[3])
	if err != nil {
		return fmt.Errorf("TYPE firstNode: %w", err)
	}
	last, err := parseNodeID(fields[4])
	if err != nil {
		return fmt.Errorf("TYPE lastNode: %w", err)
	}
	corpus.Types = append(corpus.Types, TypeDecl{Name: fields[1], Level: level, FirstID: first, LastID: last})
	return nil
}

func parseSlot(corpus *SourceCorpus, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("SLOT wants >= 1 arg")
	}
	n, err := parseNodeID(fields[1])
	if err != nil {
		return fmt.Errorf("SLOT node: %w", err)
	}
	text := strings.Join(fields[2:], " ")
	if corpus.StrFeatures["text"] == nil {
		corpus.StrFeatures["text"] = make(map[storage.NodeID]string)
	}
	corpus.StrFeatures["text"][n] = text
	return nil
}

func parseSpan(corpus *SourceCorpus, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("SPAN wants >= 2 args")
	}
	n, err := parseNodeID(fields[1])
	if err != nil {
		return fmt.Errorf("SPAN node: %w", err)
	}
	slots := make([]storage.NodeID, 0, len(fields)-2)
	for _, f := range fields[2:] {
		s, err := parseNodeID(f)
		if err != nil {
			return fmt.Errorf("SPAN slot: %w", err)
		}
		slots = append(slots, s)
	}
	corpus.NodeSlots[n] = slots
	return nil
}

func parseFeat(corpus *SourceCorpus, fields []string) error {
	if len(fields) != 4 {
		return fmt.Errorf("FEAT wants 3 args, got %d", len(fields)-1)
	}
	n, err := parseNodeID(fields[1])
	if err != nil {
		return fmt.Errorf("FEAT node: %w", err)
	}
	name := fields[2]
	if v, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
		if corpus.IntFeatures[name] == nil {
			corpus.IntFeatures[name] = make(map[storage.NodeID]int64)
		}
		corpus.IntFeatures[name][n] = v
		return nil
	}
	if corpus.StrFeatures[name] == nil {
		corpus.StrFeatures[name] = make(map[storage.NodeID]string)
	}
	corpus.StrFeatures[name][n] = fields[3]
	return nil
}

func parseEdge(corpus *SourceCorpus, fields []string) error {
	if len(fields) < 4 || len(fields) > 5 {
		return fmt.Errorf("EDGE wants 3 or 4 args, got %d", len(fields)-1)
	}
	name := fields[1]
	src, err := parseNodeID(fields[2])
	if err != nil {
		return fmt.Errorf("EDGE src: %w", err)
	}
	dst, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return fmt.Errorf("EDGE dst: %w", err)
	}
	if len(fields) == 4 {
		if corpus.Edges[name] == nil {
			corpus.Edges[name] = make(map[storage.NodeID][]uint32)
		}
		corpus.Edges[name][src] = append(corpus.Edges[name][src], uint32(dst))
		return nil
	}
	valField := fields[4]
	if v, err := strconv.ParseInt(valField, 10, 64); err == nil {
		if corpus.EdgeIntValues[name] == nil {
			corpus.EdgeIntValues[name] = make(map[storage.NodeID]map[uint32]int64)
		}
		if corpus.EdgeIntValues[name][src] == nil {
			corpus.EdgeIntValues[name][src] = make(map[uint32]int64)
		}
		corpus.EdgeIntValues[name][src][uint32(dst)] = v
		return nil
	}
	if corpus.EdgeStrValues[name] == nil {
		corpus.EdgeStrValues[name] = make(map[storage.NodeID]map[uint32]string)
	}
	if corpus.EdgeStrValues[name][src] == nil {
		corpus.EdgeStrValues[name][src] = make(map[uint32]string)
	}
	corpus.EdgeStrValues[name][src][uint32(dst)] = valField
	return nil
}

func parseNodeID(s string) (storage.NodeID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return storage.NodeID(v), nil
}
