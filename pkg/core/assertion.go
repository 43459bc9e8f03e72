package core

// Severity controls how a failed assertion affects downstream models.
type Severity string

// Assertion severities.
const (
	// SeverityError blocks downstream models when the assertion fails.
	SeverityError Severity = "error"
	// SeverityWarn records the failure but lets downstream models run.
	SeverityWarn Severity = "warn"
)

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	return s == SeverityError || s == SeverityWarn
}

// SampleCap bounds the number of violating rows attached to a failed
// assertion result.
const SampleCap = 20

// AssertionConfig declares a data-quality check tied to a model.
// Exactly one of Query, NotNull, Unique, or AcceptedValues should be
// set; the builtin forms expand to queries that return violating rows.
// An assertion passes iff its query returns zero rows.
type AssertionConfig struct {
	// Name identifies the assertion in reports. Builtin forms derive a
	// name when empty.
	Name string

	// Query is a custom check returning violating rows.
	Query string

	// NotNull lists columns that must not contain NULL.
	NotNull []string

	// Unique lists columns whose combination must be unique.
	Unique []string

	// AcceptedValues restricts a column to an enumerated value set.
	AcceptedValues *AcceptedValues

	// Severity defaults to error.
	Severity Severity
}

// AcceptedValues configures an accepted-values assertion.
type AcceptedValues struct {
	Column string
	Values []string
}

// EffectiveSeverity returns the assertion's severity, applying the
// error default.
func (a *AssertionConfig) EffectiveSeverity() Severity {
	if a.Severity == "" {
		return SeverityError
	}
	return a.Severity
}

// AssertionResult is the outcome of one assertion execution.
type AssertionResult struct {
	// Name of the assertion.
	Name string

	// Model the assertion ran against.
	Model string

	// Severity the assertion was configured with.
	Severity Severity

	// Passed is true when the check returned zero rows.
	Passed bool

	// FailingRows is the number of violating rows observed.
	FailingRows int64

	// Sample holds up to SampleCap violating rows for diagnostics,
	// rendered as column-name to value maps.
	Sample []map[string]string

	// Err is set when the assertion query itself failed to execute;
	// the assertion counts as failed in that case.
	Err error
}
