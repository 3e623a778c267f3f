package analyzer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	errMessageBlockWhitelisted = "account is whitelisted"
	logMessageBlockingAccount  = "blocking account"
	logMessageBlockRefused     = "block refused for whitelisted account"
	logMessageBlockFailed      = "block failed"
	logFieldTargetDID          = "targetDID"
)

// BlockAccounts blocks the given accounts strictly sequentially, refusing any
// account currently whitelisted. Each item's outcome is collected; per-item
// failures never abort the run. Progress is reported after every item.
func (analyzer *Analyzer) BlockAccounts(ctx context.Context, targetDIDs []string, onProgress BlockProgressFunc) ([]BlockResult, error) {
	if analyzer.viewerDID == "" {
		return nil, errMissingViewerDID
	}

	results := make([]BlockResult, 0, len(targetDIDs))
	for index, targetDID := range targetDIDs {
		if index > 0 {
			if err := sleepContext(ctx, analyzer.requestDelay); err != nil {
				return results, err
			}
		}

		result := BlockResult{DID: targetDID}
		whitelisted, listErr := analyzer.lists.IsWhitelisted(ctx, targetDID)
		if listErr != nil {
			return results, listErr
		}
		if whitelisted {
			analyzer.logger.Info(logMessageBlockRefused, zap.String(logFieldTargetDID, targetDID))
			result.Error = errMessageBlockWhitelisted
		} else {
			analyzer.logger.Info(logMessageBlockingAccount, zap.String(logFieldTargetDID, targetDID))
			if blockErr := analyzer.client.CreateBlockRecord(ctx, analyzer.viewerDID, targetDID, time.Now()); blockErr != nil {
				analyzer.logger.Warn(logMessageBlockFailed, zap.String(logFieldTargetDID, targetDID), zap.Error(blockErr))
				result.Error = blockErr.Error()
			} else {
				result.Success = true
			}
		}

		results = append(results, result)
		if onProgress != nil {
			onProgress(len(results), len(targetDIDs))
		}
	}
	return results, nil
}
