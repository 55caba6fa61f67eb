package sqlinline

const promptJobColumns = `id::text, row_id::text, model_id::text, user_id::text, operation,
  ref_urls, coalesce(target_url, ''), coalesce(existing_prompt, ''), coalesce(user_instructions, ''),
  coalesce(mode, ''), status, coalesce(generated_prompt, ''), coalesce(enhanced_prompt, ''),
  coalesce(error, ''), retry_count, max_retries, priority, created_at, started_at, completed_at`

const QInsertPromptJob = `--sql 03ef032a-579e-4b14-8406-1e4cdbf125fe
insert into prompt_generation_jobs(
  id, row_id, model_id, user_id, operation,
  ref_urls, target_url, existing_prompt, user_instructions, mode,
  status, retry_count, max_retries, priority
)
values (
  $1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::text,
  $6::text[], $7::text, $8::text, $9::text, $10::text,
  'queued', 0, $11::int, $12::int
);
`

const QSelectPromptJob = `--sql 24c29c4f-9e42-4de2-a6fd-4a80d0845f4a
select ` + promptJobColumns + `
from prompt_generation_jobs
where id = $1::uuid;
`

// QClaimNextPromptJob services the highest priority first, FIFO within a
// tier. SKIP LOCKED keeps concurrent processors off the same row.
const QClaimNextPromptJob = `--sql 18116938-61f0-4eff-8cad-e253b3d59947
with next_job as (
    select id
    from prompt_generation_jobs
    where status = 'queued'
    order by priority desc, created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update prompt_generation_jobs
    set status = 'processing', started_at = now()
    where id in (select id from next_job)
      and status = 'queued'
    returning ` + promptJobColumns + `
)
select * from claimed;
`

const QCompletePromptJob = `--sql 930009ae-f75d-4f88-9861-1684c4452063
update prompt_generation_jobs
set status = 'completed',
    generated_prompt = case when operation = 'generate' then $2::text else generated_prompt end,
    enhanced_prompt  = case when operation = 'enhance'  then $2::text else enhanced_prompt end,
    completed_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QFailPromptJob = `--sql 6d199900-35d3-466b-825a-64029064071c
update prompt_generation_jobs
set status = 'failed', error = $2::text, completed_at = now()
where id = $1::uuid
  and status not in ('completed', 'failed');
`

const QRequeuePromptJob = `--sql 2fef7ebc-086a-49ff-a273-fa3fad334b59
update prompt_generation_jobs
set status = 'queued', started_at = null, retry_count = retry_count + 1
where id = $1::uuid
  and status = 'processing'
  and retry_count < max_retries;
`

const QCancelPromptJob = `--sql 70d9a8d4-510b-41eb-a16c-1d66471e9331
update prompt_generation_jobs
set status = 'failed', error = 'cancelled by user', completed_at = now()
where id = $1::uuid
  and status in ('queued', 'processing');
`

const QResetStuckProcessingPromptJobs = `--sql c6708874-f74d-4948-a0c6-6d0c78af8d9d
update prompt_generation_jobs
set status = 'queued', started_at = null, retry_count = retry_count + 1
where status = 'processing'
  and started_at < now() - $1::interval
  and retry_count < max_retries
returning ` + promptJobColumns + `;
`

const QFailStuckProcessingPromptJobs = `--sql 94e2f4e4-e5b2-445c-bfbd-f20f5374076c
update prompt_generation_jobs
set status = 'failed', error = $2::text, completed_at = now()
where status = 'processing'
  and started_at < now() - $1::interval
  and retry_count >= max_retries
returning ` + promptJobColumns + `;
`

const QBoostStuckQueuedPromptJobs = `--sql 1fdcfd8e-102c-4493-b930-f3c83ad6e4b4
update prompt_generation_jobs
set priority = least(10, priority + $2::int)
where status = 'queued'
  and created_at < now() - $1::interval
  and priority < 10;
`

// QFailAbandonedPromptJobs ignores the retry budget: a day-old queued
// prompt indicates a systemic stall, not transient load.
const QFailAbandonedPromptJobs = `--sql affa478f-2afd-4774-9550-54f60276ea75
update prompt_generation_jobs
set status = 'failed', error = $2::text, completed_at = now()
where status = 'queued'
  and created_at < now() - $1::interval
returning ` + promptJobColumns + `;
`

const QPromptQueueStats = `--sql dfc2d759-c725-467b-9029-7be34302305d
select
  count(*) filter (where status = 'queued'),
  count(*) filter (where status = 'processing'),
  count(*) filter (where status = 'completed'),
  count(*) filter (where status = 'failed'),
  coalesce(extract(epoch from avg(started_at - created_at) filter (where started_at is not null)), 0),
  coalesce(extract(epoch from avg(completed_at - started_at) filter (where status = 'completed' and started_at is not null)), 0)
from prompt_generation_jobs;
`
