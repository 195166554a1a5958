package rabbitmq

import "worker-notes/constant"

func UploadBinding() Binding {
	return Binding{
		Exchange:             constant.NotesExchange,
		Queue:                constant.UploadQueue,
		RoutingKey:           constant.UploadRoutingKey,
		DeadLetterExchange:   constant.NotesDeadLetterExchange,
		DeadLetterQueue:      constant.UploadDeadLetterQueue,
		DeadLetterRoutingKey: constant.UploadDeadLetterKey,
	}
}

func ScheduleBinding() Binding {
	return Binding{
		Exchange:             constant.NotesExchange,
		Queue:                constant.ScheduleQueue,
		RoutingKey:           constant.ScheduleRoutingKey,
		DeadLetterExchange:   constant.NotesDeadLetterExchange,
		DeadLetterQueue:      constant.ScheduleDeadLetterQueue,
		DeadLetterRoutingKey: constant.ScheduleDeadLetterKey,
	}
}
