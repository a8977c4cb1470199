// Package facts defines the normalized fact model every extractor emits and
// the collector that gathers, validates and sequences facts for one scan.
package facts

import (
	"fmt"
	"sort"
)

// SourceKind names the kind of source an extractor reads.
type SourceKind string

const (
	SourceCode      SourceKind = "code"
	SourceTerraform SourceKind = "terraform"
	SourceDocker    SourceKind = "docker"
	SourceK8s       SourceKind = "k8s"
	SourcePackage   SourceKind = "package"
)

// SourceKinds lists every source kind in canonical order.
var SourceKinds = []SourceKind{SourceCode, SourceTerraform, SourceDocker, SourceK8s, SourcePackage}

// Kind is the semantic entity type a fact describes.
type Kind string

const (
	KindService         Kind = "service"
	KindModule          Kind = "module"
	KindResource        Kind = "resource"
	KindContainer       Kind = "container"
	KindPackage         Kind = "package"
	KindSecretCandidate Kind = "secret_candidate"
)

// Kinds lists every fact kind.
var Kinds = []Kind{KindService, KindModule, KindResource, KindContainer, KindPackage, KindSecretCandidate}

// Family partitions kinds into groups that may share an entity.
type Family string

const (
	FamilyWorkload Family = "workload"
	FamilySecret   Family = "secret"
)

// Family returns the merge family of k.
func (k Kind) Family() Family {
	if k == KindSecretCandidate {
		return FamilySecret
	}
	return FamilyWorkload
}

// Specificity orders kinds inside a family; the higher value wins a merge.
func (k Kind) Specificity() int {
	switch k {
	case KindService:
		return 5
	case KindContainer:
		return 4
	case KindModule:
		return 3
	case KindResource:
		return 2
	case KindPackage:
		return 1
	default:
		return 0
	}
}

// Well-known attribute keys.
const (
	AttrName       = "name"
	AttrType       = "type"
	AttrImage      = "image"
	AttrIdentifier = "identifier"
	AttrRoot       = "root"
	AttrPath       = "path"
)

// Reference contexts an extractor may attach to a raw reference.
const (
	ContextImport     = "import"
	ContextCall       = "call"
	ContextDependsOn  = "depends_on"
	ContextProvision  = "provision"
	ContextContain    = "contain"
	ContextBuild      = "build"
	ContextBaseImage  = "base_image"
	ContextImage      = "image"
	ContextDependency = "dependency"
)

// Reference is an unresolved pointer to another entity, expressed as a free
// text hint (name, image tag, import path, hostname).
type Reference struct {
	Hint    string `json:"hint" validate:"required"`
	Context string `json:"context" validate:"required"`
	// Confidence is the extractor's own certainty in (0,1]; zero means unset.
	Confidence float64 `json:"confidence,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// Fact is one observation from one extractor. Facts are never modified after
// the collector has sequenced them.
type Fact struct {
	SourceKind SourceKind     `json:"source_kind" validate:"required,oneof=code terraform docker k8s package"`
	RawID      string         `json:"raw_id" validate:"required,max=1024"`
	Kind       Kind           `json:"kind" validate:"required,oneof=service module resource container package secret_candidate"`
	Attributes map[string]any `json:"attributes"`
	References []Reference    `json:"raw_references,omitempty" validate:"max=10000,dive"`
	// Seq is the global emission order assigned by the collector.
	Seq int `json:"seq"`
}

// Ref returns the fact's singleton identity, source_kind:raw_id.
func (f Fact) Ref() string {
	return fmt.Sprintf("%s:%s", f.SourceKind, f.RawID)
}

// String returns a string attribute, or "" when absent or not a string.
func (f Fact) String(key string) string {
	if v, ok := f.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// Name returns the display name attribute.
func (f Fact) Name() string {
	return f.String(AttrName)
}

// SortBySeq orders facts by emission sequence.
func SortBySeq(fs []Fact) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Seq < fs[j].Seq })
}
