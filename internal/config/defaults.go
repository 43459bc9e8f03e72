package config

// Default configuration values.
const (
	DefaultModelsDir = "models"
	DefaultSeedsDir  = "seeds"
	DefaultStateFile = "strataform_state.db"
	DefaultWorkers   = 4
)

// ApplyTargetDefaults applies type-specific defaults to a target.
func ApplyTargetDefaults(t *TargetConfig) {
	if t == nil {
		return
	}
	switch t.Type {
	case "postgres":
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.Schema == "" {
			t.Schema = "public"
		}
	case "duckdb":
		if t.Schema == "" {
			t.Schema = "main"
		}
	}
}
