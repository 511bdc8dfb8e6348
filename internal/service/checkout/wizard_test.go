package checkout

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestValidateStep(t *testing.T) {
	full := validForm(domain.PaymentMethodVNPay)

	tests := []struct {
		name       string
		step       Step
		mutate     func(*domain.CheckoutForm)
		wantFields []string
	}{
		{name: "contact ok", step: StepContact},
		{
			name:       "contact missing",
			step:       StepContact,
			mutate:     func(f *domain.CheckoutForm) { f.FullName = ""; f.Phone = "  " },
			wantFields: []string{"fullName", "phone"},
		},
		{name: "address ok", step: StepAddress},
		{
			name:       "address missing ward",
			step:       StepAddress,
			mutate:     func(f *domain.CheckoutForm) { f.Ward = "" },
			wantFields: []string{"wardName"},
		},
		{name: "payment ok", step: StepPayment},
		{
			name:       "unknown method",
			step:       StepPayment,
			mutate:     func(f *domain.CheckoutForm) { f.PaymentMethod = "PAYPAL" },
			wantFields: []string{"paymentMethod"},
		},
		{
			name: "bank code without gateway",
			step: StepPayment,
			mutate: func(f *domain.CheckoutForm) {
				f.PaymentMethod = domain.PaymentMethodCashOnDelivery
				f.BankCode = "NCB"
			},
			wantFields: []string{"bankCode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := full
			if tt.mutate != nil {
				tt.mutate(&form)
			}

			err := ValidateStep(form, tt.step)
			if tt.wantFields == nil {
				require.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.step, verr.Step)
			assert.Equal(t, tt.wantFields, verr.Fields)
			assert.ErrorIs(t, err, ErrInvalidForm)
		})
	}

	assert.ErrorIs(t, ValidateStep(full, Step(4)), ErrUnknownStep)
}

func TestWizardNavigation(t *testing.T) {
	w := NewWizard(domain.CheckoutForm{})
	require.Equal(t, StepContact, w.Step)

	err := w.Next()
	assert.ErrorIs(t, err, ErrInvalidForm)
	assert.Equal(t, StepContact, w.Step, "invalid step must not advance")

	w.Form = validForm(domain.PaymentMethodVNPay)
	require.NoError(t, w.Next())
	assert.Equal(t, StepAddress, w.Step)
	require.NoError(t, w.Next())
	assert.Equal(t, StepPayment, w.Step)
	require.NoError(t, w.Next())
	assert.Equal(t, StepPayment, w.Step, "last step stays in place")
	assert.True(t, w.Completed())

	w.Back()
	w.Back()
	w.Back()
	assert.Equal(t, StepContact, w.Step)
	assert.False(t, w.Completed())
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "contact", StepContact.String())
	assert.Equal(t, "payment", StepPayment.String())
	assert.Equal(t, "step(7)", Step(7).String())
	assert.False(t, Step(0).Valid())
	assert.Equal(t, 3, TotalSteps)
}
