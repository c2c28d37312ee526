// Package notify tells owners about actions taken on their deployments
// outside a request, such as a maintenance sweep deleting an unpaid one.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers owner-facing notifications.
type Notifier interface {
	DeploymentDeleted(ctx context.Context, ownerID, deploymentName, reason string) error
	DeploymentRedeployed(ctx context.Context, ownerID, deploymentName, remoteName string) error
}

// LogNotifier writes notifications to the service log. It stands in until a
// real delivery channel is wired.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) DeploymentDeleted(_ context.Context, ownerID, deploymentName, reason string) error {
	n.logger.Info("owner notification: deployment deleted",
		zap.String("owner_id", ownerID),
		zap.String("deployment", deploymentName),
		zap.String("reason", reason),
	)
	return nil
}

func (n *LogNotifier) DeploymentRedeployed(_ context.Context, ownerID, deploymentName, remoteName string) error {
	n.logger.Info("owner notification: deployment redeployed",
		zap.String("owner_id", ownerID),
		zap.String("deployment", deploymentName),
		zap.String("remote_name", remoteName),
	)
	return nil
}
