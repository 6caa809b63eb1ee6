package dmarc

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/errors"
)

// AggregateReport is the normalized form of one DMARC aggregate report.
type AggregateReport struct {
	OrgName        string
	Email          string
	ReportID       string
	DateRangeBegin time.Time
	DateRangeEnd   time.Time

	PolicyDomain string
	ADKIM        enum.AlignmentMode
	ASPF         enum.AlignmentMode
	Policy       enum.Disposition
	SubPolicy    enum.Disposition
	Percentage   int

	Records []ReportRecord
}

type ReportRecord struct {
	SourceIP      string
	Count         int64
	Disposition   enum.Disposition
	EvalDKIM      enum.AuthResult
	EvalSPF       enum.AuthResult
	PolicyReasons []string
	HeaderFrom    string
	EnvelopeFrom  string
	DKIMResults   []DKIMResult
	SPFResults    []SPFResult
}

type DKIMResult struct {
	Domain   string
	Selector string
	Result   enum.AuthResult
}

type SPFResult struct {
	Domain string
	Scope  string
	Result enum.AuthResult
}

// Passed reports DMARC success for the record: either aligned mechanism
// passing is enough.
func (r ReportRecord) Passed() bool {
	return r.EvalDKIM == enum.AuthResultPass || r.EvalSPF == enum.AuthResultPass
}

// xml wire shapes. encoding/xml accumulates repeated child elements into the
// slice fields, so single-occurrence and multi-occurrence documents decode
// into the same normalized sequences.
type xmlFeedback struct {
	XMLName  xml.Name     `xml:"feedback"`
	Metadata *xmlMetadata `xml:"report_metadata"`
	Policy   *xmlPolicy   `xml:"policy_published"`
	Records  []xmlRecord  `xml:"record"`
}

type xmlMetadata struct {
	OrgName   string       `xml:"org_name"`
	Email     string       `xml:"email"`
	ReportID  string       `xml:"report_id"`
	DateRange xmlDateRange `xml:"date_range"`
}

type xmlDateRange struct {
	Begin string `xml:"begin"`
	End   string `xml:"end"`
}

type xmlPolicy struct {
	Domain string `xml:"domain"`
	ADKIM  string `xml:"adkim"`
	ASPF   string `xml:"aspf"`
	P      string `xml:"p"`
	SP     string `xml:"sp"`
	Pct    string `xml:"pct"`
}

type xmlRecord struct {
	Row struct {
		SourceIP        string `xml:"source_ip"`
		Count           string `xml:"count"`
		PolicyEvaluated struct {
			Disposition string      `xml:"disposition"`
			DKIM        string      `xml:"dkim"`
			SPF         string      `xml:"spf"`
			Reasons     []xmlReason `xml:"reason"`
		} `xml:"policy_evaluated"`
	} `xml:"row"`
	Identifiers struct {
		HeaderFrom   string `xml:"header_from"`
		EnvelopeFrom string `xml:"envelope_from"`
	} `xml:"identifiers"`
	AuthResults struct {
		DKIM []struct {
			Domain   string `xml:"domain"`
			Selector string `xml:"selector"`
			Result   string `xml:"result"`
		} `xml:"dkim"`
		SPF []struct {
			Domain string `xml:"domain"`
			Scope  string `xml:"scope"`
			Result string `xml:"result"`
		} `xml:"spf"`
	} `xml:"auth_results"`
}

type xmlReason struct {
	Type    string `xml:"type"`
	Comment string `xml:"comment"`
}

// ParseAggregateReport parses raw aggregate-report XML. It is a pure
// function: no I/O, deterministic, and every failure is a typed ParseError.
// Unknown disposition and auth result values degrade to their safe defaults
// instead of failing, since reports from non-compliant senders are common.
func ParseAggregateReport(rawXML []byte) (*AggregateReport, error) {
	var feedback xmlFeedback
	if err := xml.Unmarshal(rawXML, &feedback); err != nil {
		return nil, errors.NewParseError(errors.ParseMalformedXML, "%s", err.Error())
	}

	if feedback.Metadata == nil || strings.TrimSpace(feedback.Metadata.ReportID) == "" || strings.TrimSpace(feedback.Metadata.OrgName) == "" {
		return nil, errors.NewParseError(errors.ParseMissingMetadata, "report_metadata with org_name and report_id is required")
	}
	if feedback.Policy == nil || strings.TrimSpace(feedback.Policy.Domain) == "" {
		return nil, errors.NewParseError(errors.ParseMissingPolicy, "policy_published with domain is required")
	}

	begin, err := parseEpoch(feedback.Metadata.DateRange.Begin)
	if err != nil {
		return nil, errors.NewParseError(errors.ParseMalformedDateRange, "invalid date_range begin: %s", feedback.Metadata.DateRange.Begin)
	}
	end, err := parseEpoch(feedback.Metadata.DateRange.End)
	if err != nil {
		return nil, errors.NewParseError(errors.ParseMalformedDateRange, "invalid date_range end: %s", feedback.Metadata.DateRange.End)
	}

	report := &AggregateReport{
		OrgName:        strings.TrimSpace(feedback.Metadata.OrgName),
		Email:          strings.TrimSpace(feedback.Metadata.Email),
		ReportID:       strings.TrimSpace(feedback.Metadata.ReportID),
		DateRangeBegin: begin,
		DateRangeEnd:   end,
		PolicyDomain:   strings.ToLower(strings.TrimSpace(feedback.Policy.Domain)),
		ADKIM:          enum.ParseAlignmentMode(feedback.Policy.ADKIM),
		ASPF:           enum.ParseAlignmentMode(feedback.Policy.ASPF),
		Policy:         enum.ParseDisposition(feedback.Policy.P),
		SubPolicy:      enum.ParseDisposition(feedback.Policy.SP),
		Percentage:     parsePct(feedback.Policy.Pct),
	}

	for _, rec := range feedback.Records {
		record := ReportRecord{
			SourceIP:     strings.TrimSpace(rec.Row.SourceIP),
			Count:        parseCount(rec.Row.Count),
			Disposition:  enum.ParseDisposition(rec.Row.PolicyEvaluated.Disposition),
			EvalDKIM:     enum.ParseAuthResult(rec.Row.PolicyEvaluated.DKIM),
			EvalSPF:      enum.ParseAuthResult(rec.Row.PolicyEvaluated.SPF),
			HeaderFrom:   strings.ToLower(strings.TrimSpace(rec.Identifiers.HeaderFrom)),
			EnvelopeFrom: strings.ToLower(strings.TrimSpace(rec.Identifiers.EnvelopeFrom)),
		}

		for _, reason := range rec.Row.PolicyEvaluated.Reasons {
			if t := strings.TrimSpace(reason.Type); t != "" {
				record.PolicyReasons = append(record.PolicyReasons, t)
			}
		}
		for _, dkim := range rec.AuthResults.DKIM {
			record.DKIMResults = append(record.DKIMResults, DKIMResult{
				Domain:   strings.ToLower(strings.TrimSpace(dkim.Domain)),
				Selector: strings.TrimSpace(dkim.Selector),
				Result:   enum.ParseAuthResult(dkim.Result),
			})
		}
		for _, spf := range rec.AuthResults.SPF {
			record.SPFResults = append(record.SPFResults, SPFResult{
				Domain: strings.ToLower(strings.TrimSpace(spf.Domain)),
				Scope:  strings.TrimSpace(spf.Scope),
				Result: enum.ParseAuthResult(spf.Result),
			})
		}

		report.Records = append(report.Records, record)
	}

	return report, nil
}

// ExtractPolicyDomain pulls only the policy_published domain out of a report,
// used by the mailbox worker to route an attachment to the right tracked
// domain before running the full import.
func ExtractPolicyDomain(rawXML []byte) (string, error) {
	var feedback xmlFeedback
	if err := xml.Unmarshal(rawXML, &feedback); err != nil {
		return "", errors.NewParseError(errors.ParseMalformedXML, "%s", err.Error())
	}
	if feedback.Policy == nil || strings.TrimSpace(feedback.Policy.Domain) == "" {
		return "", errors.NewParseError(errors.ParseMissingPolicy, "policy_published with domain is required")
	}
	return strings.ToLower(strings.TrimSpace(feedback.Policy.Domain)), nil
}

func parseEpoch(raw string) (time.Time, error) {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func parseCount(raw string) int64 {
	count, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func parsePct(raw string) int {
	pct, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || pct < 0 || pct > 100 {
		return 100
	}
	return pct
}
