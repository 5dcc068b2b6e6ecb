package customers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverydesk/voiceagent/internal/recovery"
)

const dataset = `name,Status,Phone,Loan_Type,LOAN_AMOUNT,EMI_Amount,Tenure_Months,Days_Overdue
Sneha Reddy,Defaulter,+919800000001,Personal Loan,"8,00,000","₹15,000",60,45
Rahul Sharma,Active,+919800000002,Home Loan,2500000,28000,240,0
Rahul Verma,defaulter,+919800000003,Car Loan,600000,12000,60,30
Anita Rao,Defaulter,,Gold Loan,,,,
Rao,Active,+919800000005,Gold Loan,100000,5000,24,0
`

func loadTestDirectory(t *testing.T) *Directory {
	t.Helper()
	log, _ := test.NewNullLogger()
	d, err := Load(strings.NewReader(dataset), log)
	require.NoError(t, err)
	return d
}

func TestLoad(t *testing.T) {
	log, hook := test.NewNullLogger()
	d, err := Load(strings.NewReader(dataset), log)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Len())

	res, err := d.FindCustomer(context.Background(), "sneha")
	require.NoError(t, err)
	require.Equal(t, recovery.LookupUnique, res.Status)
	p := res.Profile
	assert.Equal(t, "Sneha Reddy", p.Name)
	assert.Equal(t, int64(800000), p.LoanAmount)
	assert.Equal(t, int64(15000), p.EMIAmount)
	assert.Equal(t, 60, p.TenureMonths)
	assert.Equal(t, 45, p.DaysOverdue)
	assert.True(t, p.IsDefaulter)

	// Empty cells resolve to defaults once at load time.
	res, err = d.FindCustomer(context.Background(), "Anita")
	require.NoError(t, err)
	require.Equal(t, recovery.LookupUnique, res.Status)
	assert.Equal(t, "N/A", res.Profile.Phone)
	assert.Equal(t, int64(defaultEMIAmount), res.Profile.EMIAmount)
	assert.Equal(t, int64(defaultLoanAmount), res.Profile.LoanAmount)
	assert.Equal(t, 0, res.Profile.DaysOverdue)

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level)
	}
}

func TestLoadRejectsMissingNameColumn(t *testing.T) {
	_, err := Load(strings.NewReader("Customer,Status\nX,Defaulter\n"), nil)
	assert.ErrorIs(t, err, ErrNoNameColumn)
}

func TestLoadWarnsOnBadAmount(t *testing.T) {
	log, hook := test.NewNullLogger()
	d, err := Load(strings.NewReader("Name,Status,EMI_Amount\nX,Defaulter,lots\n"), log)
	require.NoError(t, err)

	res, _ := d.FindCustomer(context.Background(), "X")
	assert.Equal(t, int64(defaultEMIAmount), res.Profile.EMIAmount)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestFindCustomer(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	tests := []struct {
		query      string
		wantStatus recovery.LookupStatus
		wantName   string
		wantCands  []string
	}{
		{"Sneha Reddy", recovery.LookupUnique, "Sneha Reddy", nil},
		{"SNEHA", recovery.LookupUnique, "Sneha Reddy", nil},
		{"  verma ", recovery.LookupUnique, "Rahul Verma", nil},
		{"rahul", recovery.LookupMultiple, "", []string{"Rahul Sharma", "Rahul Verma"}},
		{"rao", recovery.LookupUnique, "Rao", nil},
		{"Nobody", recovery.LookupNone, "", []string{"Sneha Reddy", "Rahul Sharma", "Rahul Verma", "Anita Rao", "Rao"}},
		{"", recovery.LookupNone, "", []string{"Sneha Reddy", "Rahul Sharma", "Rahul Verma", "Anita Rao", "Rao"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := d.FindCustomer(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantName != "" {
				require.NotNil(t, res.Profile)
				assert.Equal(t, tt.wantName, res.Profile.Name)
			}
			assert.Equal(t, tt.wantCands, res.Candidates)
		})
	}
}

func TestFindCustomerIsIdempotent(t *testing.T) {
	d := loadTestDirectory(t)
	ctx := context.Background()

	a, err := d.FindCustomer(ctx, "Sneha")
	require.NoError(t, err)
	b, err := d.FindCustomer(ctx, "Sneha")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Returned profiles are copies.
	a.Profile.EMIAmount = 1
	c, _ := d.FindCustomer(ctx, "Sneha")
	assert.Equal(t, int64(15000), c.Profile.EMIAmount)
}

func TestSummary(t *testing.T) {
	s := loadTestDirectory(t).Summary()
	assert.Equal(t, 5, s.TotalCustomers)
	assert.Equal(t, 3, s.TotalDefaulters)
	assert.Len(t, s.Columns, 8)
	assert.Equal(t, "Sneha Reddy", s.SampleNames[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.csv")
	require.NoError(t, os.WriteFile(path, []byte(dataset), 0o600))

	d, err := LoadFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)
}
