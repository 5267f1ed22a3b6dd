package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

type tableService interface {
	CreateTable(ctx context.Context, name string, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueService interface {
	CreateQueue(ctx context.Context, name string, options *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

// createTables creates the named tables, treating existing ones as done.
func createTables(ctx context.Context, svc tableService, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.CreateTable(ctx, name, nil); err != nil {
			if !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
				return err
			}
			log.Debugf("table %s already exists", name)
			continue
		}
		log.Infof("created table %s", name)
	}
	return nil
}

func createQueues(ctx context.Context, svc queueService, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.CreateQueue(ctx, name, nil); err != nil {
			if !hasErrorCode(err, queueAlreadyExists) {
				return err
			}
			log.Debugf("queue %s already exists", name)
			continue
		}
		log.Infof("created queue %s", name)
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
