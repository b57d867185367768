package service

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailbin/backend/internal/address"
	"mailbin/backend/internal/config"
	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/monitoring"
	"mailbin/backend/internal/storage"
)

var (
	// ErrUnknownAddressClass 表示请求携带了未定义的地址类别。
	ErrUnknownAddressClass = errors.New("unknown address class")
	// ErrPermanenceNotAllowed 表示该地址类别不具备永久资格。
	ErrPermanenceNotAllowed = errors.New("address class not eligible for permanence")
	// ErrMailboxPermanent 表示永久邮箱不可删除。
	ErrMailboxPermanent = errors.New("mailbox is permanent")
	// ErrGenerationExhausted 表示生成地址重试次数用尽仍未避开冲突。
	ErrGenerationExhausted = errors.New("address generation exhausted")
)

// 生成类地址撞名后的重试上限，用尽返回 ErrGenerationExhausted
const maxCreateAttempts = 30

// MailboxService 封装邮箱生命周期业务：创建、读取、转永久、删除。
type MailboxService struct {
	store     storage.MailboxRepository
	generator *address.Generator
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store storage.MailboxRepository, cfg *config.Config, logger *zap.Logger) *MailboxService {
	return &MailboxService{
		store:     store,
		generator: address.NewGenerator(),
		cfg:       cfg,
		logger:    logger,
	}
}

// SetMetrics 设置指标收集器（可选）
func (s *MailboxService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// CreateMailboxInput 定义创建邮箱所需的输入。
type CreateMailboxInput struct {
	Class          domain.AddressClass
	Address        string // 仅 custom 类使用
	ValidFor       time.Duration
	WantsPermanent bool
	IPSource       string
}

// Create 创建新的邮箱。
// custom 类校验后直接落库，冲突原样返回；name/random 类撞名后
// 换一个候选重试，重试用尽返回 ErrGenerationExhausted。
// 资格与校验失败都发生在任何落库之前。
func (s *MailboxService) Create(input CreateMailboxInput) (*domain.Mailbox, error) {
	if !input.Class.Valid() {
		return nil, ErrUnknownAddressClass
	}

	if input.WantsPermanent && !domain.PermanentAllowed(input.Class) {
		return nil, ErrPermanenceNotAllowed
	}

	validFor := s.clampValidity(input.ValidFor)

	if input.Class == domain.AddressClassCustom {
		return s.createCustom(input, validFor)
	}
	return s.createGenerated(input, validFor)
}

// createCustom 处理调用方自带地址的创建。
func (s *MailboxService) createCustom(input CreateMailboxInput, validFor time.Duration) (*domain.Mailbox, error) {
	if err := address.Validate(input.Address); err != nil {
		return nil, err
	}

	// 校验接受大写，落库前统一小写
	mailbox := s.newMailbox(strings.ToLower(input.Address), input, validFor)

	if err := s.store.SaveMailbox(mailbox); err != nil {
		if errors.Is(err, storage.ErrAddressTaken) && s.metrics != nil {
			s.metrics.RecordAddressCollision(string(input.Class))
		}
		// 自定义地址冲突不重试，换名字是调用方的事
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordMailboxCreated(string(input.Class))
	}
	return mailbox.Hydrate(), nil
}

// createGenerated 处理 name/random 类的生成与有界重试。
func (s *MailboxService) createGenerated(input CreateMailboxInput, validFor time.Duration) (*domain.Mailbox, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		var addr string
		if input.Class == domain.AddressClassName {
			addr = s.generator.NameAddress()
		} else {
			addr = s.generator.RandomAddress()
		}

		mailbox := s.newMailbox(addr, input, validFor)
		err := s.store.SaveMailbox(mailbox)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordMailboxCreated(string(input.Class))
			}
			return mailbox.Hydrate(), nil
		}
		if !errors.Is(err, storage.ErrAddressTaken) {
			return nil, err
		}

		// 撞名换一个候选重新来
		if s.metrics != nil {
			s.metrics.RecordAddressCollision(string(input.Class))
		}
		s.logger.Debug("address collision, regenerating",
			zap.String("address", addr),
			zap.String("class", string(input.Class)),
			zap.Int("attempt", attempt),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordGenerationExhausted()
	}
	s.logger.Warn("address generation exhausted",
		zap.String("class", string(input.Class)),
		zap.Int("attempts", maxCreateAttempts),
	)
	return nil, ErrGenerationExhausted
}

// Get 根据地址获取存活邮箱，过期未清理的邮箱视同不存在。
func (s *MailboxService) Get(addr string) (*domain.Mailbox, error) {
	return s.store.GetMailboxByAddress(normalizeAddress(addr), time.Now().UTC())
}

// ConvertToPermanent 把邮箱单向升级为永久，幂等。
// 返回的 already 表示邮箱此前已是永久、本次没有发生写入。
func (s *MailboxService) ConvertToPermanent(addr string) (*domain.Mailbox, bool, error) {
	addr = normalizeAddress(addr)

	mailbox, err := s.store.GetMailboxByAddress(addr, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}

	if !domain.PermanentAllowed(mailbox.Class) {
		return nil, false, ErrPermanenceNotAllowed
	}

	if domain.IsPermanentExpiry(mailbox.ExpiresAt) {
		return mailbox, true, nil
	}

	if err := s.store.UpdateMailboxExpiry(addr, domain.PermanentExpiry); err != nil {
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.RecordMailboxConverted()
	}
	s.logger.Info("mailbox converted to permanent", zap.String("address", addr))

	mailbox.ExpiresAt = domain.PermanentExpiry
	return mailbox.Hydrate(), false, nil
}

// Delete 删除邮箱及其全部邮件。永久邮箱对任何调用方都不可删除。
func (s *MailboxService) Delete(addr string) error {
	addr = normalizeAddress(addr)

	mailbox, err := s.store.GetMailboxByAddress(addr, time.Now().UTC())
	if err != nil {
		return err
	}
	if domain.IsPermanentExpiry(mailbox.ExpiresAt) {
		return ErrMailboxPermanent
	}

	if err := s.store.DeleteMailbox(addr); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordMailboxDeleted("user")
	}
	return nil
}

// newMailbox 组装一条新邮箱记录，过期时间交给编码器统一计算。
func (s *MailboxService) newMailbox(addr string, input CreateMailboxInput, validFor time.Duration) *domain.Mailbox {
	now := time.Now().UTC()
	return &domain.Mailbox{
		ID:             uuid.NewString(),
		Address:        addr,
		Class:          input.Class,
		CreatedAt:      now,
		ExpiresAt:      domain.ComputeExpiresAt(now, validFor, input.WantsPermanent, input.Class),
		LastAccessedAt: now,
		IPSource:       input.IPSource,
	}
}

// clampValidity 把请求的有效期收敛到配置允许的区间。
// 非正值取默认时长，超上限截到上限。
func (s *MailboxService) clampValidity(validFor time.Duration) time.Duration {
	defaultFor := time.Duration(s.cfg.Mailbox.DefaultHours) * time.Hour
	maxFor := time.Duration(s.cfg.Mailbox.MaxHours) * time.Hour

	if validFor <= 0 {
		return defaultFor
	}
	if validFor > maxFor {
		return maxFor
	}
	return validFor
}

// normalizeAddress 统一地址形态，入库与查询都走小写。
func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
