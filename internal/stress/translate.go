package stress

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/cluster"
)

// Translator rewrites a stress command for the target dialect. Pure:
// no I/O beyond logging, inputs never mutated, same input and context
// always produce the same output.
type Translator interface {
	Translate(cmd string, in TranslateInput) string
}

// TranslateInput is the per-invocation part of the translation context.
type TranslateInput struct {
	KeyspaceIdx int
	// LoaderRegion qualifies the -node list with a datacenter in
	// multi-region topologies.
	LoaderRegion string
}

var (
	noWarmupRe = regexp.MustCompile(`(` + ToolName + ` [\w]+)`)
	colFixedRe = regexp.MustCompile(`(?i) ('?)n=\s*fixed\(([0-9]+)\)('?)`)
	rateFixRe  = regexp.MustCompile(` fixed=\s*([0-9]+/s)`)
	popSeqRe   = regexp.MustCompile(` seq=\s*([0-9]+\.\.[0-9]+)`)
)

// CQLStressTranslator rewrites legacy cassandra-stress invocations into
// the cql-stress-cassandra-stress dialect. Rules run in a fixed order;
// each is a no-op when the input already satisfies it, so translating an
// already-translated command returns it unchanged.
type CQLStressTranslator struct {
	// KeyspaceName, when set, always wins over a keyspace= already in
	// the command and over the index-derived default.
	KeyspaceName       string
	CompactionStrategy string
	// Nodes, when non-empty, are appended as a -node list unless the
	// command already targets nodes explicitly.
	Nodes       []cluster.Node
	MultiRegion bool
	Topology    cluster.DatacenterResolver
	Logger      *zap.Logger
}

// Translate implements Translator.
func (t *CQLStressTranslator) Translate(cmd string, in TranslateInput) string {
	cmd = t.addNoWarmup(cmd)
	cmd = t.injectKeyspace(cmd, in.KeyspaceIdx)
	cmd = t.injectCompaction(cmd)
	cmd = rewriteColumnCount(cmd)
	cmd = rewriteRateFlag(cmd)
	cmd = rewritePopulationSeq(cmd)
	cmd = t.appendNodeList(cmd, in.LoaderRegion)
	return cmd
}

// cql-stress warms up by default; tests expect no warmup unless the
// command asks for one explicitly.
func (t *CQLStressTranslator) addNoWarmup(cmd string) string {
	if strings.Contains(cmd, "no-warmup") {
		return cmd
	}
	return noWarmupRe.ReplaceAllString(cmd, "$1 no-warmup")
}

// Precedence: explicit keyspace name > keyspace= already in the command
// > keyspace<idx> default.
func (t *CQLStressTranslator) injectKeyspace(cmd string, keyspaceIdx int) string {
	if t.KeyspaceName != "" {
		injected := fmt.Sprintf(" keyspace=%s ", t.KeyspaceName)
		if strings.Contains(cmd, injected) {
			return cmd
		}
		return strings.ReplaceAll(cmd, " -schema ", fmt.Sprintf(" -schema keyspace=%s ", t.KeyspaceName))
	}
	if !strings.Contains(cmd, "keyspace=") {
		return strings.ReplaceAll(cmd, " -schema ", fmt.Sprintf(" -schema keyspace=keyspace%d ", keyspaceIdx))
	}
	return cmd
}

func (t *CQLStressTranslator) injectCompaction(cmd string) string {
	if t.CompactionStrategy == "" || strings.Contains(cmd, "compaction(") {
		return cmd
	}
	return strings.ReplaceAll(cmd, " -schema ", fmt.Sprintf(" -schema 'compaction(strategy=%s)' ", t.CompactionStrategy))
}

// cassandra-stress takes -col n= as a distribution, of which only FIXED
// is valid in cql mode; cql-stress takes a plain number.
func rewriteColumnCount(cmd string) string {
	if !strings.Contains(cmd, "-col") {
		return cmd
	}
	return colFixedRe.ReplaceAllString(cmd, " ${1}n=${2}${3}")
}

// In cassandra-stress "-rate fixed=N/s" holds the rate; in cql-stress
// the rate lives in throttle= and "fixed" is a boolean flag asking for
// coordination-omission fixed latency reporting.
func rewriteRateFlag(cmd string) string {
	if !strings.Contains(cmd, "-rate") {
		return cmd
	}
	return rateFixRe.ReplaceAllString(cmd, " throttle=$1 fixed")
}

// "-pop seq=a..b" is not supported by cql-stress; the equivalent
// distribution form is.
func rewritePopulationSeq(cmd string) string {
	if !strings.Contains(cmd, "-pop") {
		return cmd
	}
	return popSeqRe.ReplaceAllString(cmd, " 'dist=SEQ($1)'")
}

// An explicit -node in the command wins over the configured node list.
func (t *CQLStressTranslator) appendNodeList(cmd, loaderRegion string) string {
	if len(t.Nodes) == 0 || strings.Contains(cmd, "-node") {
		return cmd
	}

	cmd += " -node "
	if t.MultiRegion {
		if dc, ok := t.resolveDatacenter(loaderRegion); ok {
			cmd += fmt.Sprintf("datacenter=%s ", dc)
		} else if t.Logger != nil {
			// Degraded but non-fatal: the run still targets the raw
			// node addresses without a datacenter qualifier.
			t.Logger.Error("no datacenter found for loader region, omitting datacenter qualifier",
				zap.String("region", loaderRegion))
		}
	}
	return cmd + strings.Join(cluster.CQLAddrs(t.Nodes), ",")
}

func (t *CQLStressTranslator) resolveDatacenter(region string) (string, bool) {
	if t.Topology == nil {
		return "", false
	}
	return t.Topology.ResolveDatacenter(region)
}
