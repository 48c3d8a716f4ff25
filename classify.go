// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

type classifier interface {
	Fit(x [][]float64, y []bool) error
	Predict(x []float64) bool
}

// gaussianNB is a Gaussian naive Bayes classifier.
type gaussianNB struct {
	prior [2]float64
	mean  [2][]float64
	vari  [2][]float64
}

func (nb *gaussianNB) Fit(x [][]float64, y []bool) error {
	nfeat := len(x[0])
	var byClass [2][][]float64
	for i, row := range x {
		byClass[b2i(y[i])] = append(byClass[b2i(y[i])], row)
	}
	// variance smoothing, relative to the largest feature variance
	maxVar := 0.0
	col := make([]float64, len(x))
	for f := 0; f < nfeat; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		maxVar = math.Max(maxVar, stat.Variance(col, nil))
	}
	eps := 1e-9 * math.Max(maxVar, 1)
	for c, rows := range byClass {
		if len(rows) == 0 {
			return fmt.Errorf("naive Bayes: no training samples in class %d", c)
		}
		nb.prior[c] = float64(len(rows)) / float64(len(x))
		nb.mean[c] = make([]float64, nfeat)
		nb.vari[c] = make([]float64, nfeat)
		v := make([]float64, len(rows))
		for f := 0; f < nfeat; f++ {
			for i, row := range rows {
				v[i] = row[f]
			}
			mean, variance := stat.MeanVariance(v, nil)
			if n := float64(len(v)); n > 1 {
				// population variance
				variance *= (n - 1) / n
			} else {
				variance = 0
			}
			nb.mean[c][f] = mean
			nb.vari[c][f] = variance + eps
		}
	}
	return nil
}

func (nb *gaussianNB) Predict(x []float64) bool {
	var ll [2]float64
	for c := range ll {
		ll[c] = math.Log(nb.prior[c])
		for f, v := range x {
			d := v - nb.mean[c][f]
			ll[c] -= 0.5*math.Log(2*math.Pi*nb.vari[c][f]) + d*d/(2*nb.vari[c][f])
		}
	}
	return ll[1] > ll[0]
}

// knn is a k-nearest-neighbours classifier with Euclidean distance.
// A tied vote goes to the class of the nearest neighbour.
type knn struct {
	K int
	x [][]float64
	y []bool
}

func (k *knn) Fit(x [][]float64, y []bool) error {
	if len(x) < k.K {
		return fmt.Errorf("knn: %d training samples, need at least %d", len(x), k.K)
	}
	k.x, k.y = x, y
	return nil
}

func (k *knn) Predict(x []float64) bool {
	idx := make([]int, len(k.x))
	dist := make([]float64, len(k.x))
	for i, row := range k.x {
		idx[i] = i
		for f, v := range row {
			d := v - x[f]
			dist[i] += d * d
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
	votes := 0
	for _, i := range idx[:k.K] {
		if k.y[i] {
			votes++
		} else {
			votes--
		}
	}
	if votes == 0 {
		return k.y[idx[0]]
	}
	return votes > 0
}

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// logistic is a logistic regression classifier on standardized
// features.
type logistic struct {
	mean, sd []float64
	params   []float64
}

func (lr *logistic) Fit(x [][]float64, y []bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			err = fmt.Errorf("logistic regression: %v", r)
		}
	}()
	nfeat := len(x[0])
	lr.mean = make([]float64, nfeat)
	lr.sd = make([]float64, nfeat)
	outcome := make([]statmodel.Dtype, len(x))
	constants := make([]statmodel.Dtype, len(x))
	for i := range x {
		if y[i] {
			outcome[i] = 1
		}
		constants[i] = 1
	}
	data := [][]statmodel.Dtype{outcome, constants}
	names := []string{"outcome", "constants"}
	for f := 0; f < nfeat; f++ {
		series := make([]statmodel.Dtype, len(x))
		for i, row := range x {
			series[i] = row[f]
		}
		lr.mean[f], lr.sd[f] = stat.MeanStdDev(series, nil)
		if !(lr.sd[f] > 0) {
			lr.sd[f] = 1
		}
		for i := range series {
			series[i] = (series[i] - lr.mean[f]) / lr.sd[f]
		}
		data = append(data, series)
		names = append(names, fmt.Sprintf("x%d", f))
	}
	dataset := statmodel.NewDataset(data, names)
	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		return err
	}
	lr.params = model.Fit().Params()
	for _, p := range lr.params {
		if math.IsNaN(p) {
			return errors.New("logistic regression: fit produced NaN coefficients")
		}
	}
	return nil
}

func (lr *logistic) Predict(x []float64) bool {
	eta := lr.params[0]
	for f, v := range x {
		eta += lr.params[f+1] * (v - lr.mean[f]) / lr.sd[f]
	}
	return eta > 0
}

// stratifiedFolds splits sample indices into k folds, each with
// (nearly) the same class proportions as y. The assignment depends
// only on y and seed.
func stratifiedFolds(y []bool, k int, seed uint64) ([][]int, error) {
	var byClass [2][]int
	for i, v := range y {
		byClass[b2i(v)] = append(byClass[b2i(v)], i)
	}
	for c, idx := range byClass {
		if len(idx) < k {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("class %d has %d samples, fewer than %d folds", c, len(idx), k)}
		}
	}
	rnd := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)
	next := 0
	for _, idx := range byClass {
		idx = append([]int(nil), idx...)
		rnd.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			folds[next] = append(folds[next], i)
			next = (next + 1) % k
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}

// CVScore is the mean accuracy of a classifier over
// cross-validation folds.
type CVScore struct {
	Model    string  `json:"model"`
	Train    float64 `json:"train_accuracy"`
	Test     float64 `json:"test_accuracy"`
	Failures int     `json:"failed_folds"`
}

// crossValidate fits a new classifier on each training split and
// reports mean training and test accuracy. Folds whose fit fails are
// counted and skipped.
func crossValidate(name string, newClassifier func() classifier, x [][]float64, y []bool, folds [][]int) CVScore {
	score := CVScore{Model: name}
	used := 0
	for f, test := range folds {
		inTest := make(map[int]bool, len(test))
		for _, i := range test {
			inTest[i] = true
		}
		var trainX [][]float64
		var trainY []bool
		for i := range x {
			if !inTest[i] {
				trainX = append(trainX, x[i])
				trainY = append(trainY, y[i])
			}
		}
		clf := newClassifier()
		if err := clf.Fit(trainX, trainY); err != nil {
			logrus.Warnf("%s: fold %d: %s", name, f, err)
			score.Failures++
			continue
		}
		correct := 0
		for i, row := range trainX {
			if clf.Predict(row) == trainY[i] {
				correct++
			}
		}
		score.Train += float64(correct) / float64(len(trainX))
		correct = 0
		for _, i := range test {
			if clf.Predict(x[i]) == y[i] {
				correct++
			}
		}
		score.Test += float64(correct) / float64(len(test))
		used++
	}
	if used > 0 {
		score.Train /= float64(used)
		score.Test /= float64(used)
	}
	return score
}

// Classify cross-validates the naive Bayes, 2-nearest-neighbour, and
// logistic regression classifiers predicting the disease label from
// x (samples × features).
func Classify(x [][]float64, conditions []string, disease string, nfolds int, seed uint64) ([]CVScore, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, errors.New("no features to classify")
	}
	y := make([]bool, len(conditions))
	for i, c := range conditions {
		y[i] = c == disease
	}
	folds, err := stratifiedFolds(y, nfolds, seed)
	if err != nil {
		return nil, err
	}
	scores := []CVScore{
		crossValidate("naive-bayes", func() classifier { return &gaussianNB{} }, x, y, folds),
		crossValidate("knn", func() classifier { return &knn{K: 2} }, x, y, folds),
		crossValidate("logistic", func() classifier { return &logistic{} }, x, y, folds),
	}
	for _, s := range scores {
		logrus.Infof("classify: %s: train accuracy %.3f, test accuracy %.3f (%d failed folds)", s.Model, s.Train, s.Test, s.Failures)
	}
	return scores, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

type classifyCmd struct{}

func (cmd *classifyCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	cfg := DefaultConfig()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cfg.Flags(flags)
	configFile := flags.String("config", "", "load settings from YAML `file` (command line flags take precedence)")
	samplesFilename := flags.String("samples", "samples.csv", "samples.csv `file` with PCA columns, as written by deseq or pca")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *configFile != "" {
		if err = cfg.Merge(*configFile, flags); err != nil {
			return 2
		}
	}
	if err = cfg.Validate(); err != nil {
		return 2
	}
	samples, err := loadSampleInfo(*samplesFilename)
	if err != nil {
		return 1
	}
	x := make([][]float64, len(samples))
	conditions := make([]string, len(samples))
	for i, si := range samples {
		x[i] = si.PCAComponents
		conditions[i] = si.Condition
	}
	scores, err := Classify(x, conditions, cfg.DiseaseLabel, cfg.Folds, cfg.Seed)
	if err != nil {
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	err = enc.Encode(scores)
	if err != nil {
		return 1
	}
	return 0
}
