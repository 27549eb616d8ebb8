package domain

var Tables = []interface{}{
	&WaDevice{},
	&WaQueueItem{},
	&WaOutbox{},
	&WaAiHistory{},
}
