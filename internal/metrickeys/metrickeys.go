package metrickeys

const (
	WorkflowInstanceCreated       = "workflow_instance_created"
	WorkflowInstanceFinished      = "workflow_instance_finished"
	WorkflowTaskProcessed         = "workflow_task_processed"
	WorkflowTaskDelay             = "workflow_task_delay"
	ActivityTaskProcessed         = "activity_task_processed"
	ActivityTaskDelay             = "activity_task_delay"
	ActivityName                  = "activity_name"
	WorkflowInstanceCacheSize     = "workflow_executor_cache_size"
	WorkflowInstanceCacheEviction = "workflow_executor_cache_eviction"
	EvictionReason                = "reason"
)
