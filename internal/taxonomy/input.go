package taxonomy

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxNameLength bounds every taxonomy name.
const MaxNameLength = 100

// CategoryInput creates a category.
type CategoryInput struct {
	UserID      string `json:"user_id" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
	Color       string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// SubcategoryInput creates a subcategory.
type SubcategoryInput struct {
	UserID      string `json:"user_id" validate:"required"`
	CategoryID  string `json:"category_id" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description,omitempty" validate:"max=500"`
	Color       string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// SubcategoryPatch updates a subcategory. Nil fields are left unchanged.
type SubcategoryPatch struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Color       *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// TagInput creates a tag. Exactly one of SubcategoryID and CategoryID must
// be set.
type TagInput struct {
	UserID        string `json:"user_id" validate:"required"`
	SubcategoryID string `json:"subcategory_id,omitempty"`
	CategoryID    string `json:"category_id,omitempty"`
	Name          string `json:"name" validate:"required,max=100"`
	Description   string `json:"description,omitempty" validate:"max=500"`
}

// TagPatch updates a tag's name or description; the scope is immutable.
type TagPatch struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

// Normalize trims the name and, when both scopes were supplied, keeps the
// subcategory scope and drops the category.
func (in TagInput) Normalize() TagInput {
	in.Name = strings.TrimSpace(in.Name)
	if in.SubcategoryID != "" && in.CategoryID != "" {
		in.CategoryID = ""
	}
	return in
}

// Scope reports the scope the input targets. It is only meaningful on a
// validated input.
func (in TagInput) Scope() Scope {
	if in.SubcategoryID != "" {
		return ScopeSubcategory
	}
	return ScopeCategory
}

// Validate checks field constraints and the scope exclusivity rule.
func (in TagInput) Validate() error {
	if err := Validate(in); err != nil {
		return err
	}
	switch {
	case in.SubcategoryID == "" && in.CategoryID == "":
		return Invalid("tag needs a subcategory or a category")
	case in.SubcategoryID != "" && in.CategoryID != "":
		return Invalid("tag cannot belong to both a subcategory and a category")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate runs struct-tag validation and converts failures to a
// *ValidationError.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = friendlyMessage(fe)
	}
	return &ValidationError{Message: "validation failed", Fields: fields}
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "hexcolor":
		return "must be a hex color"
	default:
		return "is invalid"
	}
}
