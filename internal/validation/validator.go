// Package validation provides validation of instance payloads accepted by
// the Nimbus API.
//
// Payloads are plain instance JSON objects. A payload may additionally carry
// JSON-LD markers (@context, @type), in which case the document is expanded
// with json-gold to make sure it is well formed.
// It uses:
//   - go-playground/validator for field rules
//   - json-gold for JSON-LD semantic validation
//
// # Usage Example
//
//	v := validation.New()
//	result, err := v.ValidateInstance(body)
//	if err != nil {
//	    // Handle error
//	}
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/piprate/json-gold/ld"

	"evalgo.org/nimbus/models"
)

const (
	// MinMemory is the lowest memory size (MB) an instance is stored with.
	MinMemory = 256

	// MinProcessors is the lowest processor count an instance is stored with.
	MinProcessors = 1

	// DocumentType is the only accepted JSON-LD @type for instance payloads.
	DocumentType = "Instance"
)

var (
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
	rolePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

	// schema.org is served from memory so validation never reaches the network
	schemaContext = map[string]interface{}{
		"@context": map[string]interface{}{
			"@vocab": "https://schema.org/",
		},
	}
)

// Validator validates instance payloads. It is safe for concurrent use.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate

	// jsonldProcessor validates JSON-LD semantic correctness
	jsonldProcessor *ld.JsonLdProcessor

	loader ld.DocumentLoader
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the wire name of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// instanceRules mirrors models.Instance with plain values so that validator
// tags can describe the rules. Empty strings are treated as absent.
type instanceRules struct {
	ID           string   `json:"id" validate:"omitempty,max=256,instanceid"`
	Name         string   `json:"name" validate:"omitempty,max=255"`
	Node         string   `json:"node" validate:"omitempty,max=256"`
	Zone         string   `json:"zone" validate:"omitempty,max=256"`
	PublicIP     string   `json:"public_ip" validate:"omitempty,ipv4"`
	PublicIP6    string   `json:"public_ip6" validate:"omitempty,ipv6"`
	Memory       *int     `json:"memory" validate:"omitempty,min=0"`
	Processors   *int     `json:"processors" validate:"omitempty,min=0"`
	Count        *int     `json:"count" validate:"omitempty,min=0"`
	NetworkRoles []string `json:"network_roles" validate:"omitempty,dive,max=64,rolename"`
}

// New creates a new Validator instance with struct and JSON-LD validators.
func New() *Validator {
	v := validator.New()

	// report fields by their wire names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})

	_ = v.RegisterValidation("instanceid", func(fl validator.FieldLevel) bool {
		return idPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("rolename", func(fl validator.FieldLevel) bool {
		return rolePattern.MatchString(fl.Field().String())
	})

	loader := ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(nil))
	loader.AddDocument("https://schema.org", schemaContext)
	loader.AddDocument("https://schema.org/", schemaContext)
	loader.AddDocument("http://schema.org", schemaContext)
	loader.AddDocument("http://schema.org/", schemaContext)

	return &Validator{
		structValidator: v,
		jsonldProcessor: ld.NewJsonLdProcessor(),
		loader:          loader,
	}
}

// ValidateInstance validates a complete instance document, as sent when
// creating an instance. The id field is required.
func (v *Validator) ValidateInstance(data []byte) (*ValidationResult, error) {
	return v.validateDocument(data, true)
}

// ValidateUpdate validates a partial instance document. Only the fields
// present are checked; the id may be omitted.
func (v *Validator) ValidateUpdate(data []byte) (*ValidationResult, error) {
	return v.validateDocument(data, false)
}

func (v *Validator) validateDocument(data []byte, requireID bool) (*ValidationResult, error) {
	var inst models.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return invalidJSON(err), nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalidJSON(err), nil
	}

	errs := v.validateJSONLD(doc)
	errs = append(errs, v.CheckInstance(inst, requireID)...)

	return &ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}, nil
}

// CheckInstance validates an already decoded instance.
func (v *Validator) CheckInstance(inst models.Instance, requireID bool) []ValidationError {
	var out []ValidationError
	if requireID && inst.ID == "" {
		out = append(out, ValidationError{Field: "id", Message: "id is required"})
	}

	rules := instanceRules{
		ID:           inst.ID,
		Name:         inst.GetName(),
		Node:         inst.GetNode(),
		Zone:         inst.GetZone(),
		PublicIP:     inst.GetPublicIP(),
		PublicIP6:    inst.GetPublicIP6(),
		Memory:       inst.Memory,
		Processors:   inst.Processors,
		Count:        inst.Count,
		NetworkRoles: inst.NetworkRoles,
	}

	err := v.structValidator.Struct(rules)
	if err == nil {
		return out
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return append(out, ValidationError{Field: "document", Message: err.Error()})
	}

	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return out
}

// validateJSONLD checks the JSON-LD markers of a document. Documents without
// @context are plain JSON and are accepted as is.
func (v *Validator) validateJSONLD(doc map[string]interface{}) []ValidationError {
	var errors []ValidationError

	if typ, hasType := doc["@type"]; hasType && typ != DocumentType {
		errors = append(errors, ValidationError{
			Field:   "@type",
			Message: fmt.Sprintf("Type must be '%s'", DocumentType),
			Value:   typ,
		})
	}

	if _, hasContext := doc["@context"]; !hasContext {
		return errors
	}

	options := ld.NewJsonLdOptions("")
	options.DocumentLoader = v.loader
	if _, err := v.jsonldProcessor.Expand(doc, options); err != nil {
		errors = append(errors, ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("Invalid JSON-LD structure: %v", err),
		})
	}

	return errors
}

// Normalize applies the server side defaults to an instance before it is
// stored: an absent state means start, memory and processors are raised to
// their minimums and absent network roles become an empty list.
func Normalize(inst *models.Instance) {
	if inst.GetState() == "" {
		inst.State = models.String(models.StateStart)
	}
	if inst.Memory == nil || *inst.Memory < MinMemory {
		inst.Memory = models.Int(MinMemory)
	}
	if inst.Processors == nil || *inst.Processors < MinProcessors {
		inst.Processors = models.Int(MinProcessors)
	}
	if inst.NetworkRoles == nil {
		inst.NetworkRoles = []string{}
	}
}

func invalidJSON(err error) *ValidationResult {
	return &ValidationResult{
		Valid: false,
		Errors: []ValidationError{
			{
				Field:   "document",
				Message: fmt.Sprintf("Invalid JSON: %v", err),
			},
		},
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s cannot be negative", fe.Field())
	case "ipv4":
		return "Invalid IPv4 address format"
	case "ipv6":
		return "Invalid IPv6 address format"
	case "instanceid":
		return "ID may only contain letters, digits, '.', '_', ':' and '-'"
	case "rolename":
		return "Role may only contain letters, digits, '.', '_' and '-'"
	default:
		return fmt.Sprintf("%s failed the %s rule", fe.Field(), fe.Tag())
	}
}
