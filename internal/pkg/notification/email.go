package notification

import (
	"marketplace_backend/internal/pkg/config"
	"marketplace_backend/pkg/logger"

	"go.uber.org/zap"
)

// EmailService 结算完成后的邮件通知。发送失败只记录日志，绝不中断结算。
type EmailService interface {
	SendEmail(to string, templateTag string, context map[string]interface{}) error
	SendEmailWithBcc(to string, bcc string, templateTag string, context map[string]interface{}) error
}

// 邮件模板标签
const (
	TemplateBuyerOrderCompleted  = "instore-order-completed-buyer"
	TemplateSellerOrderCompleted = "instore-order-completed-seller"
)

// logEmailService 默认实现：仅记录。实际投递由外部邮件服务承担，
// 替换实现时只需要满足 EmailService 接口。
type logEmailService struct{}

func NewLogEmailService() EmailService {
	return &logEmailService{}
}

func (s *logEmailService) SendEmail(to string, templateTag string, context map[string]interface{}) error {
	if config.GlobalConfig.Notification.DisableMail {
		return nil
	}
	logger.Log.Info("email dispatched",
		zap.String("to", to),
		zap.String("template", templateTag),
		zap.Any("context", context),
	)
	return nil
}

func (s *logEmailService) SendEmailWithBcc(to string, bcc string, templateTag string, context map[string]interface{}) error {
	if config.GlobalConfig.Notification.DisableMail {
		return nil
	}
	logger.Log.Info("email dispatched",
		zap.String("to", to),
		zap.String("bcc", bcc),
		zap.String("template", templateTag),
		zap.Any("context", context),
	)
	return nil
}
