package sqlinline

const jobColumns = `id::text, coalesce(row_id::text, ''), coalesce(variant_row_id::text, ''),
  model_id::text, coalesce(team_id::text, ''), user_id::text,
  status, request_payload, coalesce(provider_request_id, ''),
  coalesce(prompt_job_id::text, ''), prompt_status, coalesce(error, ''),
  created_at, updated_at`

const QInsertGenerationJob = `--sql 12a3590e-a9fc-4dba-86a8-6ebd55a408af
insert into generation_jobs(
  id, row_id, variant_row_id, model_id, team_id, user_id,
  status, request_payload, provider_request_id, prompt_job_id, prompt_status, error
)
values (
  $1::uuid, nullif($2, '')::uuid, nullif($3, '')::uuid, $4::uuid, nullif($5, '')::uuid, $6::uuid,
  $7::text, $8::jsonb, null, nullif($9, '')::uuid, $10::text, ''
);
`

const QSelectGenerationJob = `--sql 6bf5c1c5-189c-4b04-b368-58a8ca26317b
select ` + jobColumns + `
from generation_jobs
where id = $1::uuid;
`

// QClaimQueuedJobs is the at-most-one-dispatch primitive: the update is
// keyed on status = 'queued' at write time, so concurrent dispatchers
// racing on the same job see at most one winner.
const QClaimQueuedJobs = `--sql ba3fde90-cf8f-4020-aada-8efaf40ee504
with next_jobs as (
    select id
    from generation_jobs
    where status = 'queued'
      and prompt_status = 'completed'
      and (nullif($1, '')::uuid is null or model_id = $1::uuid)
      and (nullif($2, '')::uuid is null or variant_row_id = $2::uuid)
    order by created_at asc
    for update skip locked
    limit $3::int
),
claimed as (
    update generation_jobs
    set status = 'submitted', updated_at = now()
    where id in (select id from next_jobs)
      and status = 'queued'
    returning ` + jobColumns + `
)
select * from claimed;
`

const QSetProviderRequestID = `--sql b701de03-e099-4612-ba03-69dc9a471fd5
update generation_jobs
set provider_request_id = $2::text, updated_at = now()
where id = $1::uuid
  and status = 'submitted'
  and provider_request_id is null;
`

const QAdvanceJobStatus = `--sql 6cd273ac-80e7-4124-9b15-dc2f5b230bfd
update generation_jobs
set status = $3::text,
    updated_at = now(),
    error = case when $4::text <> '' then $4::text else error end
where id = $1::uuid
  and status = $2::text;
`

const QListInFlightJobs = `--sql 38137b74-c114-4725-8ff8-704e4208b633
select ` + jobColumns + `
from generation_jobs
where status in ('submitted', 'running', 'saving')
  and provider_request_id is not null
  and (nullif($1, '')::uuid is null or model_id = $1::uuid)
  and (nullif($2, '')::uuid is null or variant_row_id = $2::uuid)
order by updated_at asc
limit $3::int;
`

// QFailStuckJobs force-fails jobs stuck in one status past a threshold.
// Queued jobs age from created_at (they were never touched); later states
// age from updated_at (the last observed progress). The queued rule only
// covers dispatchable jobs: a job still waiting on its prompt is not stuck,
// it is gated, and belongs to the prompt cascade or the stale catch-all.
const QFailStuckJobs = `--sql 36fe77af-8148-423c-8546-04a367dfee97
update generation_jobs
set status = 'failed', error = $4::text, updated_at = now()
where status = $1::text
  and (case when $1::text = 'queued' then created_at else updated_at end) < now() - $2::interval
  and ($1::text <> 'queued' or prompt_status = 'completed')
  and ($3::boolean is false or provider_request_id is null)
returning ` + jobColumns + `;
`

const QFailStaleJobs = `--sql 551c8cec-3470-4aab-8ffe-b1a74758e8fd
update generation_jobs
set status = 'failed', error = $2::text, updated_at = now()
where status not in ('succeeded', 'failed')
  and created_at < now() - $1::interval
returning ` + jobColumns + `;
`

// QFailDependentJobs cascades a prompt failure onto generation jobs still
// waiting on it. A failed prompt must never leave a dependent silently
// queued forever.
const QFailDependentJobs = `--sql efd5f42c-43da-48cb-8eb4-a5ca7473ae24
update generation_jobs
set status = 'failed', prompt_status = 'failed', error = $3::text, updated_at = now()
where prompt_job_id = $1::uuid
  and status = any($2::text[])
returning ` + jobColumns + `;
`

// QMarkPromptGeneratingOnJobs flags dependents while their prompt is being
// generated, so operators can tell a gated job apart from a forgotten one.
const QMarkPromptGeneratingOnJobs = `--sql 5f1f7a6e-9b64-4f33-8f0e-3a4c0d9b2e17
update generation_jobs
set prompt_status = 'generating', updated_at = now()
where prompt_job_id = $1::uuid
  and prompt_status = 'pending'
  and status in ('queued', 'submitted', 'running', 'saving');
`

// QCompletePromptOnJobs only touches live dependents: a job that already
// failed while waiting stays failed, keeps its error, and must not count
// toward the unblocked total.
const QCompletePromptOnJobs = `--sql e04edd68-f02c-4685-9d87-a6d7f2ed5fae
update generation_jobs
set request_payload = jsonb_set(request_payload, '{prompt}', to_jsonb($2::text), true),
    prompt_status = 'completed',
    updated_at = now()
where prompt_job_id = $1::uuid
  and prompt_status in ('pending', 'generating')
  and status in ('queued', 'submitted', 'running', 'saving');
`

const QCountJobsByRow = `--sql 3b326e90-8386-4af7-8259-aa98d4d2e46e
select
  count(*) filter (where status = 'queued'),
  count(*) filter (where status = 'submitted'),
  count(*) filter (where status = 'running'),
  count(*) filter (where status = 'saving'),
  count(*) filter (where status = 'succeeded'),
  count(*) filter (where status = 'failed')
from generation_jobs
where (nullif($1, '')::uuid is null or row_id = $1::uuid)
  and (nullif($2, '')::uuid is null or variant_row_id = $2::uuid);
`
