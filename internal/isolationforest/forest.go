// Package isolationforest implements the per-client Isolation Forest evaluator
// (spec.md §4.5): binary tree ensemble, Fisher-Yates sub-sampling, path-length
// anomaly scoring, and feature-contribution explainability. Models are trained
// offline and loaded read-only — this package never trains against live traffic
// (spec.md §1 Non-goals), but Build is provided for offline tooling and tests.
package isolationforest

import (
	"encoding/json"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// FeatureCount is the deterministic feature-vector length spec.md §4.5 defines:
// [amountZ, 1-typeFrequency, hourlyTpsRatio, hourlyAmountRatio, typeAmountZ, hourOfDay/24].
const FeatureCount = 6

// Node is one binary-tree node. Compact JSON keys match spec.md §6's
// {f,v,l,r,s,e} wire format for IF model persistence.
type Node struct {
	SplitFeature int     `json:"f"`
	SplitValue   float64 `json:"v"`
	Left         *Node   `json:"l,omitempty"`
	Right        *Node   `json:"r,omitempty"`
	Size         int     `json:"s"`
	External     bool    `json:"e"`
}

// Tree is one isolation tree.
type Tree struct {
	Root *Node `json:"root"`
}

// Forest is one client's ensemble, ready for scoring.
type Forest struct {
	Trees      []*Tree `json:"trees"`
	SampleSize int     `json:"sampleSize"`
}

// maxDepth mirrors spec.md §4.5: every tree's max depth <= ceil(log2(sampleSize)).
func maxDepth(sampleSize int) int {
	if sampleSize <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// Build trains a Forest on samples (each a FeatureCount-length vector) using
// numTrees trees of sampleSize sub-samples drawn without replacement per tree.
// Offline tooling only — the live pipeline never calls this (spec.md §9 IF
// model lifecycle). Each tree is independent of the others, so the ensemble is
// built concurrently: rnd draws one seed per tree up front (keeping the build
// deterministic for a fixed rnd), then an errgroup fans the tree builds out
// across goroutines, each with its own *rand.Rand.
func Build(samples [][]float64, numTrees, sampleSize int, rnd *rand.Rand) *Forest {
	if sampleSize > len(samples) {
		sampleSize = len(samples)
	}
	depthLimit := maxDepth(sampleSize)

	seeds := make([]int64, numTrees)
	for i := range seeds {
		seeds[i] = rnd.Int63()
	}

	trees := make([]*Tree, numTrees)
	var g errgroup.Group
	for i := 0; i < numTrees; i++ {
		i := i
		g.Go(func() error {
			treeRnd := rand.New(rand.NewSource(seeds[i]))
			sub := fisherYatesSample(samples, sampleSize, treeRnd)
			trees[i] = &Tree{Root: buildNode(sub, 0, depthLimit, treeRnd)}
			return nil
		})
	}
	_ = g.Wait()

	return &Forest{Trees: trees, SampleSize: sampleSize}
}

func fisherYatesSample(samples [][]float64, n int, rnd *rand.Rand) [][]float64 {
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = samples[idx[i]]
	}
	return out
}

func buildNode(samples [][]float64, depth, depthLimit int, rnd *rand.Rand) *Node {
	if depth >= depthLimit || len(samples) <= 1 {
		return &Node{Size: len(samples), External: true}
	}

	feature := rnd.Intn(FeatureCount)
	lo, hi := samples[0][feature], samples[0][feature]
	for _, s := range samples[1:] {
		if s[feature] < lo {
			lo = s[feature]
		}
		if s[feature] > hi {
			hi = s[feature]
		}
	}
	if lo == hi {
		return &Node{Size: len(samples), External: true}
	}
	splitValue := lo + rnd.Float64()*(hi-lo)

	var left, right [][]float64
	for _, s := range samples {
		if s[feature] < splitValue {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Size: len(samples), External: true}
	}

	return &Node{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         buildNode(left, depth+1, depthLimit, rnd),
		Right:        buildNode(right, depth+1, depthLimit, rnd),
		Size:         len(samples),
	}
}

// cFactor is spec.md §4.5's average path-length normalizer for a BST holding n
// points: c(n) = 2*(ln(n-1)+Euler-Mascheroni) - 2(n-1)/n for n>=2, c(2)=1, c(<=1)=0.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	const eulerMascheroni = 0.5772156649
	nf := float64(n)
	return 2*(math.Log(nf-1)+eulerMascheroni) - 2*(nf-1)/nf
}

// PathLength returns the path length of x in tree, including the size-adjustment
// term c(leaf.Size) when the walk terminates at a non-singleton leaf.
func (t *Tree) PathLength(x []float64) float64 {
	node := t.Root
	depth := 0.0
	for node != nil && !node.External {
		if x[node.SplitFeature] < node.SplitValue {
			node = node.Left
		} else {
			node = node.Right
		}
		depth++
	}
	if node == nil {
		return depth
	}
	return depth + cFactor(node.Size)
}

// AnomalyScore computes spec.md §4.5's s(x) = 2^(-E[h(x)]/c(sampleSize)).
func (f *Forest) AnomalyScore(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.Trees {
		total += t.PathLength(x)
	}
	avg := total / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c == 0 {
		return 1
	}
	return math.Pow(2, -avg/c)
}

// FeatureContribution pairs a feature index with its contribution to the
// anomaly score.
type FeatureContribution struct {
	Feature      int
	Value        float64
	Contribution float64
}

// FeatureContributions computes spec.md §4.5's per-feature explainability: for
// each feature i, replace x[i] with clientMean[i] and re-score; contribution is
// max(0, s(x)-s(x')). Returns all FeatureCount contributions sorted descending;
// callers take the top 3.
func (f *Forest) FeatureContributions(x, clientMean []float64) []FeatureContribution {
	base := f.AnomalyScore(x)
	out := make([]FeatureContribution, FeatureCount)
	for i := 0; i < FeatureCount; i++ {
		perturbed := append([]float64(nil), x...)
		perturbed[i] = clientMean[i]
		contribution := base - f.AnomalyScore(perturbed)
		if contribution < 0 {
			contribution = 0
		}
		out[i] = FeatureContribution{Feature: i, Value: x[i], Contribution: contribution}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Contribution > out[j-1].Contribution; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Serialize encodes the forest to the compact JSON format.
func (f *Forest) Serialize() ([]byte, error) {
	return json.Marshal(f)
}

// Deserialize decodes a forest from the compact JSON format.
func Deserialize(data []byte) (*Forest, error) {
	f := &Forest{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}
