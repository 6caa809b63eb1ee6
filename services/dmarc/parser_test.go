package dmarc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarcwatch/dmarcwatch/internal/enum"
	"github.com/dmarcwatch/dmarcwatch/internal/errors"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<feedback>
  <report_metadata>
    <org_name>google.com</org_name>
    <email>noreply-dmarc-support@google.com</email>
    <report_id>12345678901234567890</report_id>
    <date_range>
      <begin>1706745600</begin>
      <end>1706831999</end>
    </date_range>
  </report_metadata>
  <policy_published>
    <domain>Example.com</domain>
    <adkim>r</adkim>
    <aspf>s</aspf>
    <p>quarantine</p>
    <sp>reject</sp>
    <pct>50</pct>
  </policy_published>
  <record>
    <row>
      <source_ip>209.85.220.41</source_ip>
      <count>50</count>
      <policy_evaluated>
        <disposition>none</disposition>
        <dkim>pass</dkim>
        <spf>fail</spf>
        <reason>
          <type>forwarded</type>
          <comment>looks forwarded</comment>
        </reason>
      </policy_evaluated>
    </row>
    <identifiers>
      <header_from>Example.com</header_from>
      <envelope_from>bounce.example.com</envelope_from>
    </identifiers>
    <auth_results>
      <dkim>
        <domain>example.com</domain>
        <selector>s1</selector>
        <result>pass</result>
      </dkim>
      <dkim>
        <domain>mailer.example.com</domain>
        <selector>s2</selector>
        <result>fail</result>
      </dkim>
      <spf>
        <domain>bounce.example.com</domain>
        <scope>mfrom</scope>
        <result>softfail</result>
      </spf>
    </auth_results>
  </record>
</feedback>`

func TestParseAggregateReport(t *testing.T) {
	report, err := ParseAggregateReport([]byte(sampleReport))
	require.NoError(t, err)

	assert.Equal(t, "google.com", report.OrgName)
	assert.Equal(t, "12345678901234567890", report.ReportID)
	assert.Equal(t, "example.com", report.PolicyDomain)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), report.DateRangeBegin)
	assert.Equal(t, time.Date(2024, 2, 1, 23, 59, 59, 0, time.UTC), report.DateRangeEnd)
	assert.Equal(t, enum.AlignmentRelaxed, report.ADKIM)
	assert.Equal(t, enum.AlignmentStrict, report.ASPF)
	assert.Equal(t, enum.DispositionQuarantine, report.Policy)
	assert.Equal(t, enum.DispositionReject, report.SubPolicy)
	assert.Equal(t, 50, report.Percentage)

	require.Len(t, report.Records, 1)
	record := report.Records[0]
	assert.Equal(t, "209.85.220.41", record.SourceIP)
	assert.Equal(t, int64(50), record.Count)
	assert.Equal(t, enum.DispositionNone, record.Disposition)
	assert.Equal(t, enum.AuthResultPass, record.EvalDKIM)
	assert.Equal(t, enum.AuthResultFail, record.EvalSPF)
	assert.Equal(t, []string{"forwarded"}, record.PolicyReasons)
	assert.Equal(t, "example.com", record.HeaderFrom)
	assert.Equal(t, "bounce.example.com", record.EnvelopeFrom)

	require.Len(t, record.DKIMResults, 2)
	assert.Equal(t, "example.com", record.DKIMResults[0].Domain)
	assert.Equal(t, "s1", record.DKIMResults[0].Selector)
	assert.Equal(t, enum.AuthResultPass, record.DKIMResults[0].Result)
	assert.Equal(t, enum.AuthResultFail, record.DKIMResults[1].Result)

	require.Len(t, record.SPFResults, 1)
	// softfail is not a known value, degrades to fail
	assert.Equal(t, enum.AuthResultFail, record.SPFResults[0].Result)
}

func TestParseAggregateReport_MultipleRecords(t *testing.T) {
	raw := `<feedback>
  <report_metadata>
    <org_name>outlook.com</org_name>
    <report_id>r-2</report_id>
    <date_range><begin>1706745600</begin><end>1706831999</end></date_range>
  </report_metadata>
  <policy_published><domain>example.com</domain><p>none</p></policy_published>
  <record>
    <row><source_ip>1.2.3.4</source_ip><count>10</count>
      <policy_evaluated><disposition>none</disposition><dkim>pass</dkim><spf>pass</spf></policy_evaluated></row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
  <record>
    <row><source_ip>5.6.7.8</source_ip><count>3</count>
      <policy_evaluated><disposition>reject</disposition><dkim>fail</dkim><spf>fail</spf></policy_evaluated></row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
</feedback>`

	report, err := ParseAggregateReport([]byte(raw))
	require.NoError(t, err)
	require.Len(t, report.Records, 2)
	assert.True(t, report.Records[0].Passed())
	assert.False(t, report.Records[1].Passed())
}

func TestParseAggregateReport_UnknownValuesDegrade(t *testing.T) {
	raw := `<feedback>
  <report_metadata>
    <org_name>weird sender</org_name>
    <report_id>r-3</report_id>
    <date_range><begin>1706745600</begin><end>1706831999</end></date_range>
  </report_metadata>
  <policy_published><domain>example.com</domain><p>banana</p><pct>250</pct></policy_published>
  <record>
    <row><source_ip>1.2.3.4</source_ip><count>-7</count>
      <policy_evaluated><disposition>whatever</disposition><dkim>maybe</dkim><spf></spf></policy_evaluated></row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
</feedback>`

	report, err := ParseAggregateReport([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, enum.DispositionNone, report.Policy)
	assert.Equal(t, 100, report.Percentage)
	assert.Equal(t, int64(0), report.Records[0].Count)
	assert.Equal(t, enum.DispositionNone, report.Records[0].Disposition)
	assert.Equal(t, enum.AuthResultFail, report.Records[0].EvalDKIM)
}

func TestParseAggregateReport_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind errors.ParseErrorKind
	}{
		{
			name: "malformed xml",
			raw:  `<feedback><unclosed>`,
			kind: errors.ParseMalformedXML,
		},
		{
			name: "missing metadata",
			raw:  `<feedback><policy_published><domain>example.com</domain></policy_published></feedback>`,
			kind: errors.ParseMissingMetadata,
		},
		{
			name: "missing report id",
			raw: `<feedback><report_metadata><org_name>x</org_name>
				<date_range><begin>1</begin><end>2</end></date_range></report_metadata>
				<policy_published><domain>example.com</domain></policy_published></feedback>`,
			kind: errors.ParseMissingMetadata,
		},
		{
			name: "missing policy",
			raw: `<feedback><report_metadata><org_name>x</org_name><report_id>1</report_id>
				<date_range><begin>1</begin><end>2</end></date_range></report_metadata></feedback>`,
			kind: errors.ParseMissingPolicy,
		},
		{
			name: "malformed date range",
			raw: `<feedback><report_metadata><org_name>x</org_name><report_id>1</report_id>
				<date_range><begin>yesterday</begin><end>2</end></date_range></report_metadata>
				<policy_published><domain>example.com</domain></policy_published></feedback>`,
			kind: errors.ParseMalformedDateRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAggregateReport([]byte(tt.raw))
			require.Error(t, err)
			var parseErr *errors.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.kind, parseErr.Kind)
		})
	}
}

func TestExtractPolicyDomain(t *testing.T) {
	domain, err := ExtractPolicyDomain([]byte(sampleReport))
	require.NoError(t, err)
	assert.Equal(t, "example.com", domain)

	_, err = ExtractPolicyDomain([]byte(`<feedback></feedback>`))
	require.Error(t, err)
	assert.True(t, errors.IsParseError(err))
}
