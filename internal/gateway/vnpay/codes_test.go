package vnpay

import "testing"

func TestResponseMessage(t *testing.T) {
	cases := map[string]string{
		"00": "Giao dịch thành công",
		"07": "Trừ tiền thành công. Giao dịch bị nghi ngờ (liên quan tới lừa đảo, giao dịch bất thường)",
		"24": "Giao dịch không thành công do: Khách hàng hủy giao dịch",
		"51": "Giao dịch không thành công do: Tài khoản của quý khách không đủ số dư để thực hiện giao dịch",
		"99": "Các lỗi khác",
		"":   "Thanh toán thất bại. Mã lỗi: ",
		"88": "Thanh toán thất bại. Mã lỗi: 88",
	}
	for code, want := range cases {
		if got := ResponseMessage(code); got != want {
			t.Fatalf("code %q: expected %q, got %q", code, want, got)
		}
	}
}

func TestIsSuccessOnlyForZeroZero(t *testing.T) {
	for code := range responseMessages {
		if IsSuccess(code) != (code == "00") {
			t.Fatalf("unexpected success flag for %q", code)
		}
	}
	if !KnownResponseCode("75") || KnownResponseCode("76") {
		t.Fatal("unexpected known code lookup")
	}
}

func TestAmountConversion(t *testing.T) {
	if got := ToGatewayAmount(150000); got != 15000000 {
		t.Fatalf("expected 15000000, got %d", got)
	}
	amount, raw := FromGatewayAmount("15000000")
	if amount != 150000 || raw != 15000000 {
		t.Fatalf("unexpected decode: %d/%d", amount, raw)
	}
	if amount, _ := FromGatewayAmount("-5"); amount != 0 {
		t.Fatalf("negative amount must decode to 0, got %d", amount)
	}
	amount, raw = FromGatewayAmount("15000050")
	if amount != 0 || raw != 15000050 {
		t.Fatalf("fractional dong must decode to 0 and keep raw value, got %d/%d", amount, raw)
	}
}
