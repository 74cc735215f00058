package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

// ErrInvalidScenario wraps every configuration error reported by Validate.
var ErrInvalidScenario = errors.New("invalid scenario")

// ClusterSpec configures one cluster: the leader's patrol and the
// subordinates kept around it.
type ClusterSpec struct {
	ID               uint32       `yaml:"id" json:"id" validate:"required"`
	Pattern          Pattern      `yaml:"pattern" json:"pattern"`
	Center           model.Vector `yaml:"center" json:"center"`
	MobilityRadius   float64      `yaml:"mobility_radius" json:"mobility_radius" validate:"gte=0"`
	SubordinateCount int          `yaml:"subordinates" json:"subordinates" validate:"gte=0"`
	SubordinateSpeed float64      `yaml:"subordinate_speed" json:"subordinate_speed" validate:"gte=0"`
}

// Scenario is the whole configuration surface of a run.
type Scenario struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// NumClusters selects the first NumClusters entries of Clusters.
	NumClusters int           `yaml:"num_clusters" json:"num_clusters" validate:"min=1"`
	Clusters    []ClusterSpec `yaml:"clusters" json:"clusters" validate:"required,min=1,unique=ID,dive"`

	LeaderSpeed      float64       `yaml:"leader_speed" json:"leader_speed" validate:"gte=0"`
	MaxRange         float64       `yaml:"max_range" json:"max_range" validate:"gt=0"`
	SamplePeriod     time.Duration `yaml:"sample_period" json:"sample_period" validate:"gt=0"`
	RepositionPeriod time.Duration `yaml:"reposition_period" json:"reposition_period" validate:"gt=0"`
	RepositionOffset time.Duration `yaml:"reposition_offset" json:"reposition_offset" validate:"gte=0"`
	Horizon          time.Duration `yaml:"horizon" json:"horizon" validate:"gte=0"`
	Seed             uint64        `yaml:"seed" json:"seed"`
}

// DefaultScenario returns the three-cluster reference configuration.
func DefaultScenario() Scenario {
	return Scenario{
		Name:        "hierarchical-manet",
		NumClusters: 3,
		Clusters: []ClusterSpec{
			{ID: 1, Pattern: PatternCircular, Center: model.Vector{X: 150, Y: 150}, MobilityRadius: 50, SubordinateCount: 4, SubordinateSpeed: 3.0},
			{ID: 2, Pattern: PatternRectangular, Center: model.Vector{X: 350, Y: 150}, MobilityRadius: 45, SubordinateCount: 3, SubordinateSpeed: 2.5},
			{ID: 3, Pattern: PatternZigzag, Center: model.Vector{X: 250, Y: 300}, MobilityRadius: 40, SubordinateCount: 3, SubordinateSpeed: 2.0},
		},
		LeaderSpeed:      8.0,
		MaxRange:         DefaultMaxRange,
		SamplePeriod:     DefaultSamplePeriod,
		RepositionPeriod: DefaultRepositionPeriod,
		RepositionOffset: DefaultRepositionOffset,
		Horizon:          60 * time.Second,
		Seed:             1,
	}
}

// ActiveClusters returns the clusters that take part in the run.
func (s Scenario) ActiveClusters() []ClusterSpec {
	n := s.NumClusters
	if n < 0 {
		n = 0
	}
	if n > len(s.Clusters) {
		n = len(s.Clusters)
	}
	return s.Clusters[:n]
}

var scenarioValidator = newScenarioValidator()

func newScenarioValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(scenarioStructLevel, Scenario{})
	return v
}

func scenarioStructLevel(sl validator.StructLevel) {
	s := sl.Current().Interface().(Scenario)

	if s.NumClusters > len(s.Clusters) {
		sl.ReportError(s.NumClusters, "NumClusters", "NumClusters", "lte_clusters", fmt.Sprint(len(s.Clusters)))
		return
	}
	if s.LeaderSpeed > 0 {
		return
	}
	for _, c := range s.ActiveClusters() {
		if c.MobilityRadius > 0 {
			sl.ReportError(s.LeaderSpeed, "LeaderSpeed", "LeaderSpeed", "moving_leaders", fmt.Sprint(c.ID))
			return
		}
	}
}

// Validate checks the scenario before anything is scheduled. The returned
// error wraps ErrInvalidScenario.
func (s Scenario) Validate() error {
	err := scenarioValidator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidScenario, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "lte_clusters":
		return fmt.Sprintf("%s=%v exceeds the %s configured clusters", field, fe.Value(), fe.Param())
	case "moving_leaders":
		return fmt.Sprintf("%s must be positive: cluster %s has a non-zero mobility radius", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s: cluster IDs must be unique", field)
	case "required":
		return fmt.Sprintf("%s is required", field)
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s=%v fails %s=%s", field, fe.Value(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s=%v fails %s", field, fe.Value(), fe.Tag())
	}
}
