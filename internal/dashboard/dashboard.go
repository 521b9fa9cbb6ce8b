// Package dashboard provides the static model evaluation data shown on the about page.
package dashboard

import (
	_ "embed"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed evaluation.yaml
var evaluationYAML []byte

// Seed makes the synthetic curves identical across restarts.
const Seed = 20240205

// Metric is one headline score.
type Metric struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
	Color string `yaml:"color" json:"color"`
}

// Finding counts misclassifications out of the evaluation set.
type Finding struct {
	Label string `yaml:"label" json:"label"`
	Value int    `yaml:"value" json:"value"`
	Total int    `yaml:"total" json:"total"`
}

// Percent returns Value as a share of Total, in percent.
func (f Finding) Percent() float64 {
	if f.Total <= 0 {
		return 0
	}
	return float64(f.Value) / float64(f.Total) * 100
}

// Card is a titled paragraph.
type Card struct {
	Title   string `yaml:"title" json:"title"`
	Content string `yaml:"content" json:"content"`
}

// Evaluation is the static content loaded from the fixture.
type Evaluation struct {
	Model    string    `yaml:"model" json:"model"`
	Summary  string    `yaml:"summary" json:"summary"`
	Metrics  []Metric  `yaml:"metrics" json:"metrics"`
	Errors   []Finding `yaml:"errors" json:"errors"`
	Cards    []Card    `yaml:"cards" json:"cards"`
	Features []Card    `yaml:"features" json:"features"`
}

// GANPoint is one epoch of the GAN augmentation training run.
type GANPoint struct {
	Epoch         int     `json:"epoch"`
	Generator     float64 `json:"generator"`
	Discriminator float64 `json:"discriminator"`
}

// TrainingPoint is one epoch of classifier training.
type TrainingPoint struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValLoss   float64 `json:"val_loss"`
	TrainAcc  float64 `json:"train_acc"`
	ValAcc    float64 `json:"val_acc"`
}

// Dashboard is everything the about page renders.
type Dashboard struct {
	Evaluation
	GAN      []GANPoint      `json:"gan"`
	Training []TrainingPoint `json:"training"`
}

// Load parses an evaluation fixture.
func Load(data []byte) (*Evaluation, error) {
	var eval Evaluation
	if err := yaml.Unmarshal(data, &eval); err != nil {
		return nil, fmt.Errorf("parse evaluation fixture: %w", err)
	}
	if len(eval.Metrics) == 0 {
		return nil, fmt.Errorf("parse evaluation fixture: no metrics")
	}
	return &eval, nil
}

// Default builds the dashboard from the embedded fixture and seeded curves.
func Default() (*Dashboard, error) {
	eval, err := Load(evaluationYAML)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(Seed))
	return &Dashboard{
		Evaluation: *eval,
		GAN:        GenerateGAN(rng),
		Training:   GenerateTraining(rng),
	}, nil
}

// GenerateGAN produces 401 epochs: generator loss falls from ~9.5 to ~3.3 over the
// first 20 epochs, discriminator loss stays near 0.6, and epoch 205 is pinned to
// G 3.327 / D 0.663.
func GenerateGAN(rng *rand.Rand) []GANPoint {
	points := make([]GANPoint, 0, 401)
	for i := 0; i <= 400; i++ {
		var g float64
		if i < 20 {
			g = 9.5 - 6*(float64(i)/20) + rng.Float64()*0.5
		} else {
			g = 3.3 + math.Sin(float64(i)/5)*0.2 + rng.Float64()*0.3
		}
		d := 0.6 + rng.Float64()*0.2
		if i == 205 {
			g, d = 3.327, 0.663
		}
		points = append(points, GANPoint{Epoch: i, Generator: g, Discriminator: d})
	}
	return points
}

// GenerateTraining produces 100 epochs of loss and accuracy curves.
func GenerateTraining(rng *rand.Rand) []TrainingPoint {
	points := make([]TrainingPoint, 0, 100)
	for i := 0; i < 100; i++ {
		x := float64(i)
		trainLoss := 0.01 + rng.Float64()*0.01
		if i < 10 {
			trainLoss = 0.3 * math.Exp(-x/3)
		}
		valLoss := 0.15 + math.Sin(x/2)*0.05 + rng.Float64()*0.05
		trainAcc := 0.985 + rng.Float64()*0.005
		if i < 5 {
			trainAcc = 0.88 + 0.11*(x/5)
		}
		valAcc := 0.95 + math.Sin(x/3)*0.01 + rng.Float64()*0.01
		points = append(points, TrainingPoint{Epoch: i, TrainLoss: trainLoss, ValLoss: valLoss, TrainAcc: trainAcc, ValAcc: valAcc})
	}
	return points
}

// Polyline maps values onto an SVG "points" attribute inside a width x height box,
// with lo at the bottom edge and hi at the top.
func Polyline(values []float64, width, height, lo, hi float64) string {
	if len(values) == 0 || hi <= lo {
		return ""
	}
	step := 0.0
	if len(values) > 1 {
		step = width / float64(len(values)-1)
	}
	var b strings.Builder
	for i, v := range values {
		v = math.Max(lo, math.Min(hi, v))
		y := height - (v-lo)/(hi-lo)*height
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(float64(i)*step, 'f', 1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(y, 'f', 1, 64))
	}
	return b.String()
}

// GeneratorLoss and the other series accessors feed the chart templates.
func (d *Dashboard) GeneratorLoss() []float64 {
	out := make([]float64, len(d.GAN))
	for i, p := range d.GAN {
		out[i] = p.Generator
	}
	return out
}

func (d *Dashboard) DiscriminatorLoss() []float64 {
	out := make([]float64, len(d.GAN))
	for i, p := range d.GAN {
		out[i] = p.Discriminator
	}
	return out
}

func (d *Dashboard) TrainLoss() []float64 { return d.trainingSeries(func(p TrainingPoint) float64 { return p.TrainLoss }) }
func (d *Dashboard) ValLoss() []float64 { return d.trainingSeries(func(p TrainingPoint) float64 { return p.ValLoss }) }
func (d *Dashboard) TrainAcc() []float64 { return d.trainingSeries(func(p TrainingPoint) float64 { return p.TrainAcc }) }
func (d *Dashboard) ValAcc() []float64 { return d.trainingSeries(func(p TrainingPoint) float64 { return p.ValAcc }) }

func (d *Dashboard) trainingSeries(pick func(TrainingPoint) float64) []float64 {
	out := make([]float64, len(d.Training))
	for i, p := range d.Training {
		out[i] = pick(p)
	}
	return out
}
