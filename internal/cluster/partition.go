package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// partitionInfix separates a partitioned table's base index name from
// its partition-ident suffix. Using an infix rather than a delimiter
// character keeps the name parseable even when a partition value
// itself contains dots or dashes.
const partitionInfix = "._p_"

// PartitionName computes the deterministic index name for one
// partition of rel, given its partition-column values in declaration
// order. The encoding is length-prefixed (each value preceded by its
// byte length and a colon) so that values containing arbitrary bytes,
// including the infix itself, round-trip through ParsePartitionName.
func PartitionName(rel RelationName, values []string) string {
	var b strings.Builder
	b.WriteString(rel.String())
	b.WriteString(partitionInfix)
	for _, v := range values {
		fmt.Fprintf(&b, "%d:%s", len(v), v)
	}
	return b.String()
}

// ParsePartitionName is the reverse of PartitionName: it recovers the
// owning relation and the partition values from an index name.
func ParsePartitionName(indexName string) (rel RelationName, values []string, ok bool) {
	idx := strings.Index(indexName, partitionInfix)
	if idx < 0 {
		return RelationName{}, nil, false
	}
	relPart := indexName[:idx]
	dot := strings.IndexByte(relPart, '.')
	if dot < 0 {
		return RelationName{}, nil, false
	}
	rel = RelationName{Schema: relPart[:dot], Name: relPart[dot+1:]}

	rest := indexName[idx+len(partitionInfix):]
	for len(rest) > 0 {
		colon := strings.IndexByte(rest, ':')
		if colon < 0 {
			return RelationName{}, nil, false
		}
		n, err := strconv.Atoi(rest[:colon])
		if err != nil || n < 0 {
			return RelationName{}, nil, false
		}
		rest = rest[colon+1:]
		if len(rest) < n {
			return RelationName{}, nil, false
		}
		values = append(values, rest[:n])
		rest = rest[n:]
	}
	return rel, values, true
}

// IsPartition reports whether indexName names one partition of a
// partitioned table (as opposed to a standalone index).
func IsPartition(indexName string) bool {
	return strings.Contains(indexName, partitionInfix)
}
