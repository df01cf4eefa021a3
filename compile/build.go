package compile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/codykingham/context-fabric/embed"
	"github.com/codykingham/context-fabric/manifest"
	"github.com/codykingham/context-fabric/schema"
	"github.com/codykingham/context-fabric/storage"
)

// Compile turns corpus into a complete cache directory tree under
// cacheDir. It is deterministic (stable string-pool first-seen order,
// edge rows sorted ascending), idempotent (a content-hash match against
// an existing manifest skips the rebuild), and atomic (the full tree is
// built under a temp directory and renamed into place). fs is the
// filesystem compile writes through — afero.NewOsFs() in production, an
// in-memory fs in tests that exercise crash recovery without real I/O.
func Compile(corpus *SourceCorpus, fs afero.Fs, cacheDir string, logger *zap.SugaredLogger) (*manifest.Manifest, error) {
	hash := contentHash(corpus)

	if existing, err := readManifest(fs, cacheDir); err == nil && existing.SourceHash == hash {
		logger.Infow("compile skipped", "cacheDir", cacheDir, "reason", "content hash unchanged")
		return existing, nil
	}

	lock, err := acquireCompileLock(cacheDir)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	tmpDir := fmt.Sprintf("%s.tmp-%d-%x", cacheDir, os.Getpid(), hash)
	if err := fs.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("compile: clear stale temp dir: %w", err)
	}
	if err := fs.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("compile: create temp dir: %w", err)
	}

	m, err := buildArtifacts(corpus, fs, tmpDir, hash)
	if err != nil {
		_ = fs.RemoveAll(tmpDir)
		return nil, fmt.Errorf("compile(%s): %w", cacheDir, err)
	}

	encoded, err := manifest.Encode(m)
	if err != nil {
		_ = fs.RemoveAll(tmpDir)
		return nil, err
	}
	if err := afero.WriteFile(fs, joinPath(tmpDir, manifest.FileName), encoded, 0o644); err != nil {
		_ = fs.RemoveAll(tmpDir)
		return nil, fmt.Errorf("compile: write manifest: %w", err)
	}

	if err := atomicInstall(fs, tmpDir, cacheDir); err != nil {
		return nil, fmt.Errorf("compile(%s): %w", cacheDir, err)
	}

	logger.Infow("compiled corpus", "cacheDir", cacheDir, "maxNode", m.MaxNode, "features", len(m.Features))
	return m, nil
}

// atomicInstall moves the previous good cache aside, renames tmpDir
// into place, then discards the previous one — a crash between the two
// renames leaves either the old or new cache fully intact under one of
// the two names, never a half-written cacheDir.
func atomicInstall(fs afero.Fs, tmpDir, cacheDir string) error {
	prevDir := cacheDir + ".prev"
	_ = fs.RemoveAll(prevDir)
	if exists, _ := afero.DirExists(fs, cacheDir); exists {
		if err := fs.Rename(cacheDir, prevDir); err != nil {
			return fmt.Errorf("set aside previous cache: %w", err)
		}
	}
	if err := fs.Rename(tmpDir, cacheDir); err != nil {
		if exists, _ := afero.DirExists(fs, prevDir); exists {
			_ = fs.Rename(prevDir, cacheDir)
		}
		return fmt.Errorf("install new cache: %w", err)
	}
	_ = fs.RemoveAll(prevDir)
	return nil
}

func readManifest(fs afero.Fs, cacheDir string) (*manifest.Manifest, error) {
	b, err := afero.ReadFile(fs, joinPath(cacheDir, manifest.FileName))
	if err != nil {
		return nil, err
	}
	return manifest.Decode(b)
}

func joinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// contentHash hashes a canonical encoding of corpus so identical input
// always produces the same hash regardless of Go map iteration order.
func contentHash(corpus *SourceCorpus) uint64 {
	h := xxhash.New()
	write := func(s string) { _, _ = h.Write([]byte(s)) }
	writeInt := func(n int64) { write(fmt.Sprintf("%d\x1f", n)) }

	writeInt(int64(corpus.MaxSlot))
	writeInt(int64(corpus.MaxNode))

	types := append([]TypeDecl(nil), corpus.Types...)
	sort.Slice(types, func(i, j int) bool { return types[i].FirstID < types[j].FirstID })
	for _, t := range types {
		write(t.Name)
		writeInt(int64(t.Level))
		writeInt(int64(t.FirstID))
		writeInt(int64(t.LastID))
	}

	for _, name := range sortedKeys(corpus.NodeSlots) {
		writeInt(int64(name))
		for _, s := range corpus.NodeSlots[name] {
			writeInt(int64(s))
		}
	}
	for _, name := range sortedStringKeys(corpus.IntFeatures) {
		write(name)
		m := corpus.IntFeatures[name]
		for _, n := range sortedKeys(m) {
			writeInt(int64(n))
			writeInt(m[n])
		}
	}
	for _, name := range sortedStringKeys(corpus.StrFeatures) {
		write(name)
		m := corpus.StrFeatures[name]
		for _, n := range sortedKeys(m) {
			writeInt(int64(n))
			write(m[n])
		}
	}
	for _, name := range sortedStringKeys(corpus.Edges) {
		write(name)
		m := corpus.Edges[name]
		for _, n := range sortedKeys(m) {
			writeInt(int64(n))
			for _, t := range m[n] {
				writeInt(int64(t))
			}
		}
	}
	// fmt prints maps with sorted keys, so %#v is a canonical encoding.
	for _, name := range sortedStringKeys(corpus.EdgeIntValues) {
		write(name)
		write(fmt.Sprintf("%#v\x1f", corpus.EdgeIntValues[name]))
	}
	for _, name := range sortedStringKeys(corpus.EdgeStrValues) {
		write(name)
		write(fmt.Sprintf("%#v\x1f", corpus.EdgeStrValues[name]))
	}
	h.Write([]byte{0})
	return h.Sum64()
}

func sortedKeys(m interface{}) []storage.NodeID {
	var out []storage.NodeID
	switch v := m.(type) {
	case map[storage.NodeID][]storage.NodeID:
		for k := range v {
			out = append(out, k)
		}
	case map[storage.NodeID]int64:
		for k := range v {
			out = append(out, k)
		}
	case map[storage.NodeID]string:
		for k := range v {
			out = append(out, k)
		}
	case map[storage.NodeID][]uint32:
		for k := range v {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedStringKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildArtifacts writes every array file under dir and returns the
// manifest describing them.
func buildArtifacts(corpus *SourceCorpus, fs afero.Fs, dir string, hash uint64) (*manifest.Manifest, error) {
	typeRanges := make([]schema.TypeRange, 0, len(corpus.Types))
	manifestTypes := make([]manifest.TypeRangeEntry, 0, len(corpus.Types))
	for _, t := range corpus.Types {
		typeRanges = append(typeRanges, schema.TypeRange{Name: t.Name, Level: t.Level, FirstID: t.FirstID, LastID: t.LastID})
		manifestTypes = append(manifestTypes, manifest.TypeRangeEntry{Name: t.Name, Level: t.Level, FirstID: uint32(t.FirstID), LastID: uint32(t.LastID)})
	}
	types, err := schema.NewTypeTable(corpus.MaxSlot, corpus.MaxNode, typeRanges)
	if err != nil {
		return nil, err
	}

	var features []manifest.FeatureEntry

	if err := mkdir(fs, dir, "features"); err != nil {
		return nil, err
	}
	if err := mkdir(fs, dir, "edges"); err != nil {
		return nil, err
	}
	if err := mkdir(fs, dir, "computed"); err != nil {
		return nil, err
	}

	if err := writeOType(fs, dir, corpus, typeRanges, &features); err != nil {
		return nil, err
	}

	for _, name := range sortedStringKeys(corpus.IntFeatures) {
		if err := writeIntFeature(fs, dir, name, corpus.IntFeatures[name], corpus.MaxNode, &features); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedStringKeys(corpus.StrFeatures) {
		if err := writeStrFeature(fs, dir, name, corpus.StrFeatures[name], corpus.MaxNode, &features); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedStringKeys(corpus.Edges) {
		if err := writeEdgeFeature(fs, dir, name, corpus.Edges[name], int(corpus.MaxNode), &features); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedStringKeys(corpus.EdgeIntValues) {
		if err := writeEdgeIntValueFeature(fs, dir, name, corpus.EdgeIntValues[name], int(corpus.MaxNode), &features); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedStringKeys(corpus.EdgeStrValues) {
		if err := writeEdgeStrValueFeature(fs, dir, name, corpus.EdgeStrValues[name], int(corpus.MaxNode), &features); err != nil {
			return nil, err
		}
	}
	if err := writeComputed(fs, dir, corpus, types, &features); err != nil {
		return nil, err
	}

	return manifest.New(uint32(corpus.MaxSlot), uint32(corpus.MaxNode), manifestTypes, features, hash), nil
}

func mkdir(fs afero.Fs, dir, sub string) error {
	return fs.MkdirAll(joinPath(dir, sub), 0o755)
}

func writeOType(fs afero.Fs, dir string, corpus *SourceCorpus, typeRanges []schema.TypeRange, features *[]manifest.FeatureEntry) error {
	sorted := append([]schema.TypeRange(nil), typeRanges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FirstID < sorted[j].FirstID })
	data := make(map[storage.NodeID]int64, corpus.MaxNode)
	for n := storage.NodeID(1); n <= corpus.MaxSlot; n++ {
		data[n] = 0
	}
	for i, r := range sorted {
		for n := r.FirstID; n <= r.LastID; n++ {
			data[n] = int64(i + 1)
		}
	}
	buf, dtype, sentinel := storage.BuildIntColumn(data, corpus.MaxNode)
	path := joinPath(dir, "otype."+dtype.String())
	if err := afero.WriteFile(fs, path, buf, 0o644); err != nil {
		return fmt.Errorf("write otype: %w", err)
	}
	*features = append(*features, manifest.FeatureEntry{
		Name: "otype", Kind: manifest.FeatureInt, DType: dtype.String(), Sentinel: sentinel,
		Files: map[string]string{"column": "otype." + dtype.String()},
	})
	return nil
}

func writeIntFeature(fs afero.Fs, dir, name string, data map[storage.NodeID]int64, maxNode storage.NodeID, features *[]manifest.FeatureEntry) error {
	buf, dtype, sentinel := storage.BuildIntColumn(data, maxNode)
	rel := joinPath("features", name+"."+dtype.String())
	if err := afero.WriteFile(fs, joinPath(dir, rel), buf, 0o644); err != nil {
		return fmt.Errorf("write feature %s: %w", name, err)
	}
	*features = append(*features, manifest.FeatureEntry{
		Name: name, Kind: manifest.FeatureInt, DType: dtype.String(), Sentinel: sentinel,
		Files: map[string]string{"column": rel},
	})
	return nil
}

func writeStrFeature(fs afero.Fs, dir, name string, data map[storage.NodeID]string, maxNode storage.NodeID, features *[]manifest.FeatureEntry) error {
	strs, idxBytes, idxType := storage.BuildStringPool(data, maxNode)
	poolRel := joinPath("features", name+".pool")
	idxRel := joinPath("features", name+".idx."+idxType.String())
	if err := afero.WriteFile(fs, joinPath(dir, poolRel), []byte(strings.Join(strs, "\n")), 0o644); err != nil {
		return fmt.Errorf("write feature %s pool: %w", name, err)
	}
	if err := afero.WriteFile(fs, joinPath(dir, idxRel), idxBytes, 0o644); err != nil {
		return fmt.Errorf("write feature %s idx: %w", name, err)
	}
	*features = append(*features, manifest.FeatureEntry{
		Name: name, Kind: manifest.FeatureStr, DType: idxType.String(),
		Files: map[string]string{"pool": poolRel, "idx": idxRel},
	})
	return nil
}

func writeEdgeFeature(fs afero.Fs, dir, name string, rows map[storage.NodeID][]uint32, numRows int, features *[]manifest.FeatureEntry) error {
	seqs := make([][]uint32, numRows)
	for n, targets := range rows {
		if n >= 1 && int(n) <= numRows {
			seqs[int(n)-1] = targets
		}
	}
	offsets, data := storage.BuildCSR(seqs, true)
	offRel := joinPath("edges", name+".offsets")
	dataRel := joinPath("edges", name+".data")
	if err := writeAll(fs, dir, map[string][]byte{offRel: offsets, dataRel: data}); err != nil {
		return fmt.Errorf("write edge %s: %w", name, err)
	}
	*features = append(*features, manifest.FeatureEntry{
		Name: name, Kind: manifest.FeatureEdge,
		Files: map[string]string{"offsets": offRel, "data": dataRel},
	})
	return nil
}

func writeEdgeIntValueFeature(fs afero.Fs, dir, name string, rows map[storage.NodeID]map[uint32]int64, numRows int, features *[]manifest.FeatureEntry) error {
	offsets, data, values, dtype, sentinel := storage.BuildCSRWithValuesInt(rows, numRows)
	offRel := joinPath("edges", name+".offsets")
	dataRel := joinPath("edges", name+".data")
	valRel := joinPath("edges", name+".values."+dtype.String())
	if err := writeAll(fs, dir, map[string][]byte{offRel: offsets, dataRel: data, valRel: values}); err != nil {
		return fmt.Errorf("write edge %s: %w", name, err)
	}
	*features = append(*features, manifest.FeatureEntry{
		Name: name, Kind: manifest.FeatureEdgeWithValue, DType: dtype.String(), Sentinel: sentinel, ValueKind: "int",
		Files: map[string]string{"offsets": offRel, "data": dataRel, "values": valRel},
	})
	return nil
}

func writeEdgeStrValueFeature(fs afero.Fs, dir, name string, rows map[storage.NodeID]map[uint32]string, numRows int, features *[]manifest.FeatureEntry) error {
	offsets, data, values, dtype, strs := storage.BuildCSRWithValuesString(rows, numRows)
	offRel := joinPath("edges", name+".offsets")
	dataRel := joinPath("edges", name+".data")
	valRel := joinPath("edges", name+".values."+dtype.String())
	poolRel := joinPath("edges", name+".pool")
	if err := writeAll(fs, dir, map[string][]byte{offRel: offsets, dataRel: data, valRel: values, poolRel: []byte(strings.Join(strs, "\n"))}); err != nil {
		return fmt.Errorf("write edge %s: %w", name, err)
	}
	*features = append(*features, manifest.FeatureEntry{
		Name: name, Kind: manifest.FeatureEdgeWithValue, DType: dtype.String(), ValueKind: "str",
		Files: map[string]string{"offsets": offRel, "data": dataRel, "values": valRel, "pool": poolRel},
	})
	return nil
}

func writeComputed(fs afero.Fs, dir string, corpus *SourceCorpus, types *schema.TypeTable, features *[]manifest.FeatureEntry) error {
	containers := buildContainers(corpus, types)
	levUpSeqs, levDownSeqs := embed.BuildLevUpLevDown(types, func(n storage.NodeID) []storage.NodeID { return containers(n) })

	upOff, upData := storage.BuildCSR(levUpSeqs, true)
	downOff, downData := storage.BuildCSR(levDownSeqs, true)
	if err := writeAll(fs, dir, map[string][]byte{
		"computed/levUp.offsets":   upOff,
		"computed/levUp.data":      upData,
		"computed/levDown.offsets": downOff,
		"computed/levDown.data":    downData,
	}); err != nil {
		return fmt.Errorf("write computed levUp/levDown: %w", err)
	}
	*features = append(*features,
		manifest.FeatureEntry{Name: "levUp", Kind: manifest.FeatureComputed, Files: map[string]string{"offsets": "computed/levUp.offsets", "data": "computed/levUp.data"}},
		manifest.FeatureEntry{Name: "levDown", Kind: manifest.FeatureComputed, Files: map[string]string{"offsets": "computed/levDown.offsets", "data": "computed/levDown.data"}},
	)

	minData, maxData := schema.BuildSpans(corpus.MaxSlot, corpus.MaxNode, corpus.NodeSlots)
	minBuf, minType, _ := storage.BuildIntColumn(minData, corpus.MaxNode)
	maxBuf, maxType, _ := storage.BuildIntColumn(maxData, corpus.MaxNode)
	minRel := "computed/minSlot." + minType.String()
	maxRel := "computed/maxSlot." + maxType.String()
	if err := writeAll(fs, dir, map[string][]byte{minRel: minBuf, maxRel: maxBuf}); err != nil {
		return fmt.Errorf("write computed spans: %w", err)
	}
	*features = append(*features,
		manifest.FeatureEntry{Name: "minSlot", Kind: manifest.FeatureComputed, DType: minType.String(), Files: map[string]string{"column": minRel}},
		manifest.FeatureEntry{Name: "maxSlot", Kind: manifest.FeatureComputed, DType: maxType.String(), Files: map[string]string{"column": maxRel}},
	)
	return nil
}

func writeAll(fs afero.Fs, dir string, files map[string][]byte) error {
	for rel, content := range files {
		if err := afero.WriteFile(fs, joinPath(dir, rel), content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
