package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"arcgis-bridge/internal/domain"
	"arcgis-bridge/internal/service"

	"go.uber.org/zap"
)

// subscriber 订阅端接口（由 Client 实现，测试时可替换）
type subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

// IngestBroker 消息触发的读数接入：订阅主题上的单条读数 JSON，
// 走与 HTTP 接入完全相同的校验 → 映射 → 追加管线。
// 校验失败的消息记日志后丢弃（消息无法被发送方修正后原样重投）。
type IngestBroker struct {
	ingest service.IngestService
	topic  string
	logger *zap.Logger
}

// NewIngestBroker 创建 IngestBroker
func NewIngestBroker(ingest service.IngestService, topic string, logger *zap.Logger) *IngestBroker {
	return &IngestBroker{
		ingest: ingest,
		topic:  topic,
		logger: logger,
	}
}

// HandleMessage 处理一条 MQTT 消息（payload 为单条 20 字段读数 JSON）
func (b *IngestBroker) HandleMessage(topic string, payload []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	result, err := b.ingest.Ingest(context.Background(), raw)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			// 调用方可修正的错误：记日志丢弃，不向传输层报错
			b.logger.Warn("Dropping invalid reading from MQTT",
				zap.String("topic", topic),
				zap.Strings("violations", vErr.Violations),
			)
			return nil
		}
		return fmt.Errorf("failed to ingest reading: %w", err)
	}

	b.logger.Info("Reading ingested via MQTT",
		zap.String("topic", topic),
		zap.String("asset_id", result.AssetID),
		zap.Int64("record_id", result.RecordID),
	)
	return nil
}

// Start 订阅主题
func (b *IngestBroker) Start(client subscriber) error {
	if err := client.Subscribe(b.topic, 1, b.HandleMessage); err != nil {
		return err
	}
	b.logger.Info("MQTT ingest broker started", zap.String("topic", b.topic))
	return nil
}

// Stop 取消订阅
func (b *IngestBroker) Stop(client subscriber) error {
	if err := client.Unsubscribe(b.topic); err != nil {
		b.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	b.logger.Info("MQTT ingest broker stopped")
	return nil
}
