package monitor

// Telemetry queries against SNOWFLAKE.TELEMETRY.EVENTS_VIEW. The lookback
// window is injected with %d (validated integer, never user text).

var connectorStatusColumns = []string{
	"DEPLOYMENT_ID", "RUNTIME_KEY", "POD_NAME", "CONNECTOR_NAME",
	"CONNECTOR_ID", "STATUS", "LAST_REFRESH_TIME",
	"ERROR_MESSAGE", "CREATED_ON", "MODIFIED_ON",
}

const connectorStatusQuery = `
SELECT
    resource_attributes:"openflow.dataplane.id" as DEPLOYMENT_ID,
    resource_attributes:"k8s.namespace.name" as RUNTIME_KEY,
    resource_attributes:"k8s.pod.name" as POD_NAME,
    record_attributes:name as CONNECTOR_NAME,
    record_attributes:id as CONNECTOR_ID,
    CASE
        WHEN record:metric:name = 'processor.run.status.running' AND TO_NUMBER(value) = 1 THEN 'RUNNING'
        WHEN record:metric:name = 'processor.run.status.running' AND TO_NUMBER(value) = 0 THEN 'STOPPED'
        ELSE 'UNKNOWN'
    END as STATUS,
    timestamp as LAST_REFRESH_TIME,
    NULL as ERROR_MESSAGE,
    timestamp as CREATED_ON,
    timestamp as MODIFIED_ON
FROM SNOWFLAKE.TELEMETRY.EVENTS_VIEW
WHERE true
    AND record_type = 'METRIC'
    AND record:metric:name = 'processor.run.status.running'
    AND timestamp > dateadd(minutes, -%d, sysdate())
    AND resource_attributes:"k8s.namespace.name" like 'runtime-%%'
    AND record_attributes:name IS NOT NULL
ORDER BY timestamp DESC
LIMIT 1000
`

const availableConnectorsQuery = `
SELECT DISTINCT record_attributes:name as CONNECTOR_NAME
FROM SNOWFLAKE.TELEMETRY.EVENTS_VIEW
WHERE true
    AND record_type = 'METRIC'
    AND record:metric:name = 'processor.run.status.running'
    AND timestamp > dateadd(minutes, -%d, sysdate())
    AND resource_attributes:"k8s.namespace.name" like 'runtime-%%'
    AND record_attributes:name IS NOT NULL
`

var errorLogsColumns = []string{
	"TIMESTAMP", "DEPLOYMENT_ID", "RUNTIME_KEY",
	"LOG_LEVEL", "LOGGER", "MESSAGE", "PARSED_LOG",
}

const errorLogsQuery = `
SELECT
    timestamp,
    resource_attributes:"openflow.dataplane.id" as DEPLOYMENT_ID,
    resource_attributes:"k8s.namespace.name" as RUNTIME_KEY,
    parsed_log:level as LOG_LEVEL,
    parsed_log:loggerName as LOGGER,
    parsed_log:formattedMessage as MESSAGE,
    parsed_log
FROM (
    SELECT
        timestamp,
        resource_attributes:"openflow.dataplane.id" as DEPLOYMENT_ID,
        resource_attributes:"k8s.namespace.name" as RUNTIME_KEY,
        TRY_PARSE_JSON(value) as parsed_log
    FROM SNOWFLAKE.TELEMETRY.EVENTS_VIEW
    WHERE true
        AND timestamp > dateadd('minutes', -%d, sysdate())
        AND record_type = 'LOG'
        AND resource_attributes:"k8s.namespace.name" like 'runtime-%%'
    ORDER BY timestamp DESC
    LIMIT 5000
) WHERE LOG_LEVEL = 'ERROR'
LIMIT 100
`

var stuckFlowFilesColumns = []string{
	"DEPLOYMENT_ID", "RUNTIME_KEY", "CONNECTION_NAME",
	"CONNECTION_ID", "MAX_QUEUED_FILE_MINUTES",
}

const stuckFlowFilesQuery = `
SELECT * FROM (
    SELECT
        resource_attributes:"openflow.dataplane.id" as DEPLOYMENT_ID,
        resource_attributes:"k8s.namespace.name" as RUNTIME_KEY,
        record_attributes:name as CONNECTION_NAME,
        record_attributes:id as CONNECTION_ID,
        MAX(TO_NUMBER(value / 60 / 1000)) as MAX_QUEUED_FILE_MINUTES
    FROM SNOWFLAKE.TELEMETRY.EVENTS_VIEW
    WHERE true
        AND record_type = 'METRIC'
        AND record:metric:name = 'connection.queued.duration.max'
        AND timestamp > dateadd(minutes, -%d, sysdate())
    GROUP BY 1, 2, 3, 4
    ORDER BY MAX_QUEUED_FILE_MINUTES DESC
    LIMIT 100
) WHERE MAX_QUEUED_FILE_MINUTES > %d
`

var creditUsageColumns = []string{
	"RUNTIME_KEY", "DATA_PLANE_TYPE", "ACTIVE_DAYS", "DATA_PLANES_USED",
	"TOTAL_RUNTIME_CREDITS", "TOTAL_DATA_PLANE_CREDITS", "TOTAL_CREDITS",
	"AVG_DAILY_CREDITS", "STDDEV_DAILY_CREDITS", "MIN_DAILY_CREDITS",
	"MAX_DAILY_CREDITS", "CREDITS_PER_ACTIVE_DAY", "RUNTIME_COST_PERCENTAGE",
	"DATA_PLANE_COST_PERCENTAGE", "COST_MODEL", "USAGE_CATEGORY",
	"USAGE_PATTERN", "EFFICIENCY_RATING", "FIRST_USAGE_DATE", "LAST_USAGE_DATE",
}

const creditUsageQuery = `
SELECT
    RUNTIME_KEY,
    DATA_PLANE_TYPE,
    ACTIVE_DAYS,
    DATA_PLANES_USED,
    TOTAL_RUNTIME_CREDITS,
    TOTAL_DATA_PLANE_CREDITS,
    TOTAL_CREDITS,
    AVG_DAILY_CREDITS,
    STDDEV_DAILY_CREDITS,
    MIN_DAILY_CREDITS,
    MAX_DAILY_CREDITS,
    CREDITS_PER_ACTIVE_DAY,
    RUNTIME_COST_PERCENTAGE,
    DATA_PLANE_COST_PERCENTAGE,
    COST_MODEL,
    USAGE_CATEGORY,
    USAGE_PATTERN,
    EFFICIENCY_RATING,
    FIRST_USAGE_DATE,
    LAST_USAGE_DATE
FROM OPENFLOW_COST_ANALYSIS
ORDER BY TOTAL_CREDITS DESC
`
