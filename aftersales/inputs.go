package aftersales

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

type OpenCaseInput struct {
	TrackingNumber string           `json:"trackingNumber" validate:"max=64"`
	OrderId        string           `json:"orderId" validate:"max=64"`
	ShipmentId     string           `json:"shipmentId" validate:"max=64"`
	StoreId        string           `json:"storeId" validate:"max=64"`
	CustomerId     string           `json:"customerId" validate:"max=64"`
	IssueType      string           `json:"issueType" validate:"required"`
	Priority       string           `json:"priority" validate:"required"`
	Description    string           `json:"description" validate:"required,max=4000"`
	ClaimAmount    *decimal.Decimal `json:"claimAmount"`
	Disposition    string           `json:"disposition" validate:"max=255"`
	ContactPhone   string           `json:"contactPhone" validate:"max=32"`
}

type UploadReplacementInput struct {
	TrackingNumber string `json:"trackingNumber" validate:"required,max=64"`
	Note           string `json:"note" validate:"max=1000"`
}

// openCaseFields is the normalized, typed form of OpenCaseInput.
type openCaseFields struct {
	trackingNumber string
	orderId        string
	shipmentId     string
	storeId        string
	customerId     string
	issueType      IssueType
	priority       Priority
	description    string
	claimAmount    *decimal.Decimal
	disposition    string
	contactPhone   string
}

func (in OpenCaseInput) normalize() OpenCaseInput {
	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	in.OrderId = strings.TrimSpace(in.OrderId)
	in.ShipmentId = strings.TrimSpace(in.ShipmentId)
	in.StoreId = strings.TrimSpace(in.StoreId)
	in.CustomerId = strings.TrimSpace(in.CustomerId)
	in.IssueType = strings.TrimSpace(in.IssueType)
	in.Priority = strings.TrimSpace(in.Priority)
	in.Description = strings.TrimSpace(in.Description)
	in.Disposition = strings.TrimSpace(in.Disposition)
	in.ContactPhone = strings.TrimSpace(in.ContactPhone)
	return in
}

func (s *Service) parseOpenCase(in OpenCaseInput) (openCaseFields, error) {
	in = in.normalize()
	fields := map[string]string{}
	if err := s.validate.Struct(in); err != nil {
		for k, v := range validationMessages(err) {
			fields[k] = v
		}
	}

	out := openCaseFields{
		trackingNumber: in.TrackingNumber,
		orderId:        in.OrderId,
		shipmentId:     in.ShipmentId,
		storeId:        in.StoreId,
		customerId:     in.CustomerId,
		description:    in.Description,
		disposition:    in.Disposition,
	}
	if in.IssueType != "" {
		t, err := ParseIssueType(in.IssueType)
		if err != nil {
			fields["issueType"] = "invalid issue type"
		}
		out.issueType = t
	}
	if in.Priority != "" {
		p, err := ParsePriority(in.Priority)
		if err != nil {
			fields["priority"] = "invalid priority"
		}
		out.priority = p
	}
	if in.ClaimAmount != nil {
		if in.ClaimAmount.IsNegative() {
			fields["claimAmount"] = "claim amount must not be negative"
		} else {
			v := *in.ClaimAmount
			out.claimAmount = &v
		}
	}
	if in.ContactPhone != "" {
		phone, err := formatPhone(in.ContactPhone, s.phoneRegion)
		if err != nil {
			fields["contactPhone"] = err.Error()
		}
		out.contactPhone = phone
	}

	if len(fields) > 0 {
		return out, &ValidationError{Fields: fields}
	}
	return out, nil
}

func formatPhone(phone, region string) (string, error) {
	num, err := libphonenumber.Parse(phone, region)
	if err != nil {
		return "", errors.New("invalid phone number")
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// validationMessages turns validator errors into field -> message.
func validationMessages(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["input"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = field + " is required"
		case "max":
			out[field] = field + " must be at most " + fe.Param() + " characters"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
