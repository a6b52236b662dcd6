package resolution

import (
	"context"
	"encoding/json"
	"strings"

	"controlplane/internal/rules"
	dErrors "controlplane/pkg/errors"
)

// Answers is the decoded shape of a wizard answer snapshot. The snapshot
// store treats the payload as opaque; this is the one place it is
// interpreted.
type Answers struct {
	Sector                   string   `json:"sector"`
	Country                  string   `json:"country"`
	DataTypes                []string `json:"dataTypes"`
	HasPaymentCardData       bool     `json:"hasPaymentCardData"`
	HasCrossBorderTransfers  bool     `json:"hasCrossBorderTransfers"`
	TransferCountries        []string `json:"transferCountries"`
	HasThirdPartySharing     bool     `json:"hasThirdPartySharing"`
	HasInternetFacingSystems bool     `json:"hasInternetFacingSystems"`
	CloudProviders           []string `json:"cloudProviders"`
	EmployeeCount            float64  `json:"employeeCount"`
	CustomerVolumeTier       string   `json:"customerVolumeTier"`
	TransactionVolumeTier    string   `json:"transactionVolumeTier"`
	SelectedFrameworks       []string `json:"selectedFrameworks"`
	LegalEntities            []string `json:"legalEntities"`
	Systems                  []string `json:"systems"`
	Locations                []string `json:"locations"`
	Exclusions               []string `json:"exclusions"`
	Environments             string   `json:"environments"`
}

// derived data-type classifications, matching the catalog's rule vocabulary.
func (a Answers) processesPII() bool {
	return containsAny(a.DataTypes, "PII", "Personal")
}

func (a Answers) processesPHI() bool {
	return containsAny(a.DataTypes, "PHI", "Health")
}

func (a Answers) processesClassified() bool {
	return containsAny(a.DataTypes, "Classified", "Government")
}

func (a Answers) usesCloud() bool { return len(a.CloudProviders) > 0 }

func containsAny(values []string, substrings ...string) bool {
	for _, v := range values {
		for _, sub := range substrings {
			if strings.Contains(v, sub) {
				return true
			}
		}
	}
	return false
}

// DecodeAnswers parses a snapshot payload.
func DecodeAnswers(payload json.RawMessage) (Answers, error) {
	var a Answers
	if err := json.Unmarshal(payload, &a); err != nil {
		return Answers{}, dErrors.Wrap(err, dErrors.CodeValidation, "answers payload is malformed")
	}
	if a.Sector == "" {
		return Answers{}, dErrors.New(dErrors.CodeValidation, "answers must name a sector")
	}
	if a.Country == "" {
		return Answers{}, dErrors.New(dErrors.CodeValidation, "answers must name a country of incorporation")
	}
	return a, nil
}

// BuildContext projects answers into the evaluation context rules and
// overlay triggers read. The context is the only input evaluation sees;
// anything not projected here is invisible to rules.
func BuildContext(a Answers) rules.Context {
	return rules.NewContext(map[string]rules.Value{
		"sector":                   rules.String(a.Sector),
		"country":                  rules.String(a.Country),
		"dataTypes":                rules.Set(a.DataTypes),
		"processesPII":             rules.Bool(a.processesPII()),
		"processesPHI":             rules.Bool(a.processesPHI()),
		"processesClassifiedData":  rules.Bool(a.processesClassified()),
		"hasPaymentCardData":       rules.Bool(a.HasPaymentCardData),
		"hasCrossBorderTransfers":  rules.Bool(a.HasCrossBorderTransfers),
		"hasThirdPartySharing":     rules.Bool(a.HasThirdPartySharing),
		"hasInternetFacingSystems": rules.Bool(a.HasInternetFacingSystems),
		"usesCloud":                rules.Bool(a.usesCloud()),
		"cloudProviders":           rules.Set(a.CloudProviders),
		"employeeCount":            rules.Number(a.EmployeeCount),
		"customerVolumeTier":       rules.String(a.CustomerVolumeTier),
		"transactionVolumeTier":    rules.String(a.TransactionVolumeTier),
	})
}

// ValidateAnswerDomains checks enumerated answers against the reference
// source's category options. A nil source or an unconstrained category
// passes. Validation never drives engine logic; it only rejects answers the
// onboarding side should not have produced.
func ValidateAnswerDomains(ctx context.Context, source ReferenceSource, a Answers) error {
	if source == nil {
		return nil
	}
	for category, value := range map[string]string{
		"sector":  a.Sector,
		"country": a.Country,
	} {
		options, err := source.GetCategoryOptions(ctx, category)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeResolution, "reference source unavailable")
		}
		if len(options) == 0 {
			continue
		}
		if !optionAllowed(options, value) {
			return dErrors.Newf(dErrors.CodeValidation,
				"answer %s=%q is not a known option", category, value)
		}
	}
	return nil
}

func optionAllowed(options []CategoryOption, value string) bool {
	for _, opt := range options {
		if opt.Active && opt.Code == value {
			return true
		}
	}
	return false
}
