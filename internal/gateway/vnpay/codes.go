package vnpay

import (
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// responseMessages — фиксированный словарь кодов ответа VNPay, тексты показываются пользователю как есть.
var responseMessages = map[string]string{
	"00": "Giao dịch thành công",
	"01": "Giao dịch đã tồn tại",
	"02": "Merchant không hợp lệ",
	"03": "Dữ liệu gửi sang không đúng định dạng",
	"04": "Khởi tạo GD không thành công do Website đang bị tạm khóa",
	"05": "Giao dịch không thành công do: Quý khách nhập sai mật khẩu thanh toán quá số lần quy định",
	"06": "Giao dịch không thành công do Quý khách nhập sai mật khẩu xác thực giao dịch",
	"07": "Trừ tiền thành công. Giao dịch bị nghi ngờ (liên quan tới lừa đảo, giao dịch bất thường)",
	"09": "Giao dịch không thành công do: Thẻ/Tài khoản của khách hàng chưa đăng ký dịch vụ InternetBanking",
	"10": "Giao dịch không thành công do: Khách hàng xác thực thông tin thẻ/tài khoản không đúng quá 3 lần",
	"11": "Giao dịch không thành công do: Đã hết hạn chờ thanh toán",
	"12": "Giao dịch không thành công do: Thẻ/Tài khoản của khách hàng bị khóa",
	"13": "Giao dịch không thành công do Quý khách nhập sai mật khẩu xác thực giao dịch",
	"24": "Giao dịch không thành công do: Khách hàng hủy giao dịch",
	"51": "Giao dịch không thành công do: Tài khoản của quý khách không đủ số dư để thực hiện giao dịch",
	"65": "Giao dịch không thành công do: Tài khoản của Quý khách đã vượt quá hạn mức giao dịch trong ngày",
	"75": "Ngân hàng thanh toán đang bảo trì",
	"79": "Giao dịch không thành công do: KH nhập sai mật khẩu thanh toán nhiều lần",
	"99": "Các lỗi khác",
}

// ResponseMessage возвращает текст для пользователя по коду ответа.
// Неизвестный код не считается ошибкой: возвращается общий текст с исходным кодом.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Thanh toán thất bại. Mã lỗi: %s", code)
}

// KnownResponseCode сообщает, входит ли код в словарь VNPay.
func KnownResponseCode(code string) bool {
	_, ok := responseMessages[code]
	return ok
}

// IsSuccess: успехом считается только код "00".
func IsSuccess(code string) bool {
	return code == domain.ResponseCodeSuccess
}
