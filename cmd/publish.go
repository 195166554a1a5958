package cmd

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"worker-notes/config"
	"worker-notes/dto"
	"worker-notes/pkg/rabbitmq"
	server2 "worker-notes/server"
)

// publish replays the events the backend normally emits.
func publish(config *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "publish an upload or schedule event",
	}

	var uploadId string
	var reprocess bool
	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "queue an upload for processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(uploadId)
			if err != nil {
				return fmt.Errorf("invalid upload id: %w", err)
			}
			return publishMessage(config, rabbitmq.UploadBinding(), dto.UploadStoredMessage{UploadId: id, Reprocess: reprocess})
		},
	}
	uploadCmd.Flags().StringVar(&uploadId, "id", "", "upload id")
	uploadCmd.Flags().BoolVar(&reprocess, "reprocess", false, "replace the extracted text")
	_ = uploadCmd.MarkFlagRequired("id")

	var courseId string
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "signal that a course's class time changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(courseId)
			if err != nil {
				return fmt.Errorf("invalid course id: %w", err)
			}
			return publishMessage(config, rabbitmq.ScheduleBinding(), dto.ScheduleUpdatedMessage{CourseId: id})
		},
	}
	scheduleCmd.Flags().StringVar(&courseId, "course", "", "course id")
	_ = scheduleCmd.MarkFlagRequired("course")

	cmd.AddCommand(uploadCmd, scheduleCmd)
	return cmd
}

func publishMessage(cfg *config.Config, binding rabbitmq.Binding, message any) error {
	ctx := server2.SetupLogger(cfg)
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer conn.Close()

	return rabbitmq.NewPublisher(conn, cfg.Queue).Publish(ctx, binding, message)
}
