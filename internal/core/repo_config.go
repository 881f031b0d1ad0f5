package core

// PipelineFile represents the structure of the build-warden.yml file.
type PipelineFile struct {
	// Named step sequences, one per job type.
	Pipelines map[string]Pipeline `yaml:"pipelines"`

	// Repositories that may be built. Events for any other repository are ignored.
	Repositories []RepositoryConfig `yaml:"repositories"`
}

// Pipeline is an ordered step sequence.
type Pipeline struct {
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// RepositoryConfig registers one repository for building.
type RepositoryConfig struct {
	// Full name, e.g. "octo/widgets".
	Name string `yaml:"name" json:"name"`

	// Pipeline selects the step sequence by name.
	Pipeline string `yaml:"pipeline" json:"pipeline"`

	// CloneURL overrides the clone URL carried in the webhook payload.
	CloneURL string `yaml:"clone_url" json:"clone_url,omitempty"`

	// Branches whose pushes (or pull requests targeting them) trigger builds.
	// Empty means the defaults, main and master.
	Branches []string `yaml:"branches" json:"branches,omitempty"`
}

// DefaultBranches trigger builds when a repository lists none.
var DefaultBranches = []string{"main", "master"}

// TriggersOn reports whether the branch is one of the repository's trigger branches.
func (r RepositoryConfig) TriggersOn(branch string) bool {
	branches := r.Branches
	if len(branches) == 0 {
		branches = DefaultBranches
	}
	for _, b := range branches {
		if b == branch {
			return true
		}
	}
	return false
}

// DefaultPipelines returns the built-in pipelines. Every one starts with a
// checkout step that clones into the empty job workspace.
func DefaultPipelines() map[string]Pipeline {
	return map[string]Pipeline{
		"maven": {Steps: []StepSpec{
			checkoutStep(),
			{Name: "build", Command: []string{"mvn", "-B", "clean", "install"}},
		}},
		"gradle": {Steps: []StepSpec{
			checkoutStep(),
			{Name: "build", Command: []string{"gradle", "clean", "build"}},
		}},
		"go": {Steps: []StepSpec{
			checkoutStep(),
			{Name: "build", Command: []string{"go", "build", "./..."}},
			{Name: "test", Command: []string{"go", "test", "./..."}},
		}},
	}
}

func checkoutStep() StepSpec {
	return StepSpec{
		Name: "checkout",
		Command: []string{"sh", "-c",
			`git -c core.longpaths=true clone --quiet "$BW_CLONE_URL" . && git -c core.longpaths=true checkout --quiet --force "$BW_COMMIT"`},
	}
}
